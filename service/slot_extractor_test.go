package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) *SlotExtractor {
	t.Helper()
	return NewSlotExtractor(NewCaseTemplateCatalog())
}

func TestExtractUnknownCase(t *testing.T) {
	extractor := newTestExtractor(t)

	_, err := extractor.Extract("no_such_case", "有合同")
	assert.ErrorIs(t, err, ErrCaseNotFound)
}

func TestExtractBoolSlots(t *testing.T) {
	extractor := newTestExtractor(t)

	found, err := extractor.Extract("rent_deposit_dispute", "我和房东签了合同，房子没有损坏，已经搬走了")
	require.NoError(t, err)

	assert.Equal(t, true, found["lease_exists"])
	assert.Equal(t, false, found["damage"])
	assert.Equal(t, true, found["handover_done"])
}

func TestExtractNegativeBeatsPositive(t *testing.T) {
	extractor := newTestExtractor(t)

	// Both polarities present: the negative cue wins.
	found, err := extractor.Extract("rent_deposit_dispute", "有损坏吗？其实没有损坏")
	require.NoError(t, err)

	assert.Equal(t, false, found["damage"])
}

func TestExtractOmitsUnmentionedSlots(t *testing.T) {
	extractor := newTestExtractor(t)

	found, err := extractor.Extract("rent_deposit_dispute", "房东不讲理")
	require.NoError(t, err)

	_, ok := found["lease_exists"]
	assert.False(t, ok)
	_, ok = found["damage"]
	assert.False(t, ok)
	_, ok = found["deposit_amount"]
	assert.False(t, ok)
}

func TestExtractAmount(t *testing.T) {
	extractor := newTestExtractor(t)

	found, err := extractor.Extract("rent_deposit_dispute", "押金是 2000元，一直不退")
	require.NoError(t, err)
	assert.Equal(t, "2000元", found["deposit_amount"])

	// Single digit does not match the amount pattern.
	found, err = extractor.Extract("rent_deposit_dispute", "只有5元")
	require.NoError(t, err)
	_, ok := found["deposit_amount"]
	assert.False(t, ok)
}

func TestExtractEvidenceTypes(t *testing.T) {
	extractor := newTestExtractor(t)

	found, err := extractor.Extract("rent_deposit_dispute", "我有合同和转账记录，还有微信记录")
	require.NoError(t, err)

	labels, ok := found["evidence_types"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"contract", "transfer_record", "chat_record"}, labels)
}

func TestExtractLaborCase(t *testing.T) {
	extractor := newTestExtractor(t)

	found, err := extractor.Extract("labor_wage_arrears", "有劳动合同，公司拖欠工资8000元，有加班")
	require.NoError(t, err)

	assert.Equal(t, true, found["employment_exists"])
	assert.Equal(t, true, found["payment_overdue"])
	assert.Equal(t, true, found["overtime_dispute"])
	assert.Equal(t, "8000元", found["wage_due_amount"])

	labels, ok := found["evidence_types"].([]string)
	require.True(t, ok)
	assert.Contains(t, labels, "labor_contract")
}
