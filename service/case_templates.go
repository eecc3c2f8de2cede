package service

import (
	"errors"

	"lawsim-backend/models"
)

// ErrCaseNotFound is returned for a case_id with no registered template.
var ErrCaseNotFound = errors.New("case template not found")

// DefaultCaseID is the template assumed for legacy sessions with no case id.
const DefaultCaseID = "rent_deposit_dispute"

// CaseTemplateCatalog holds the statically registered dispute templates.
// Initialized once at startup and read-only afterwards; adding a new
// dispute type is a pure data change here.
type CaseTemplateCatalog struct {
	templates map[string]*models.CaseTemplate
}

// NewCaseTemplateCatalog creates a catalog with the built-in templates.
func NewCaseTemplateCatalog() *CaseTemplateCatalog {
	catalog := &CaseTemplateCatalog{templates: make(map[string]*models.CaseTemplate)}
	catalog.register(rentDepositTemplate())
	catalog.register(laborWageTemplate())
	return catalog
}

func (c *CaseTemplateCatalog) register(template *models.CaseTemplate) {
	c.templates[template.CaseID] = template
}

// TemplateFor resolves a case id to its template.
func (c *CaseTemplateCatalog) TemplateFor(caseID string) (*models.CaseTemplate, error) {
	template, ok := c.templates[caseID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	return template, nil
}

// CaseIDs lists the registered template ids.
func (c *CaseTemplateCatalog) CaseIDs() []string {
	ids := make([]string, 0, len(c.templates))
	for id := range c.templates {
		ids = append(ids, id)
	}
	return ids
}

func rentDepositTemplate() *models.CaseTemplate {
	return &models.CaseTemplate{
		CaseID:            "rent_deposit_dispute",
		FactSlots:         []string{"lease_exists", "deposit_amount", "damage", "handover_done", "evidence_types"},
		RequiredFactSlots: []string{"lease_exists", "damage", "handover_done"},
		SlotQuestions: map[string]string{
			"lease_exists":  "你和房东之间是否有书面或可证明的租赁约定？",
			"damage":        "退租时房屋是否存在损坏，是否有交接记录？",
			"handover_done": "你是否已经搬离并完成交接？",
		},

		FactIntroOpening:  "已进入案件模拟。先补齐关键事实。",
		FactIntroFollowup: "收到，我先确认关键事实。",
		FactConfirmedText: "事实已基本确认：你可以开始说明争议焦点（是否无故扣押金、是否存在维修争议）。",

		DisputeQuestion: "请选择争议类型：无故扣押金 / 维修扣费争议 / 合同条款争议",
		DisputeActions:  []string{"withhold_deposit", "repair_deduction", "contract_clause"},
		OptionQuestion:  "请选择方案：协商沟通 / 投诉调解 / 起诉维权",
		OptionActions:   []string{"negotiate", "mediate", "litigate"},

		CompletionQuestion: "是否要补充新的证据（合同、聊天记录、转账截图）以细化结论？",
		CompletionActions:  []string{"补充证据", "重新选择方案", "结束案件模拟"},
		NoEvidenceQuestion: "当前缺少直接依据，请补充合同、交接记录、催告记录后再选择方案。",
		NoEvidenceActions:  []string{"补充合同", "补充交接证据", "补充催告记录"},

		BoolSlots: []models.BoolSlotRule{
			{
				Slot:     "lease_exists",
				Positive: []string{"有合同", "签了合同", "签合同", "书面合同"},
				Negative: []string{"没合同", "未签合同", "没有合同"},
			},
			{
				Slot:     "damage",
				Positive: []string{"有损坏", "损坏", "破坏"},
				Negative: []string{"无损坏", "没有损坏", "未损坏", "完好"},
			},
			{
				Slot:     "handover_done",
				Positive: []string{"已搬走", "已经搬走", "已退租", "已交接", "交房"},
				Negative: []string{"没搬走", "未搬走", "未退租", "未交接"},
			},
		},
		AmountSlot: "deposit_amount",
		EvidenceKeywords: map[string][]string{
			"contract":        {"合同", "租赁协议"},
			"chat_record":     {"聊天记录", "微信记录", "短信"},
			"transfer_record": {"转账", "支付记录", "收据", "发票"},
			"handover_record": {"交接", "验房", "交房"},
			"photo_video":     {"照片", "视频", "录音"},
		},

		DisputeKeywords: []models.KeywordChoice{
			{Choice: "withhold_deposit", Keywords: []string{"无故", "不退押金", "扣押金"}},
			{Choice: "repair_deduction", Keywords: []string{"维修", "修缮", "损坏"}},
			{Choice: "contract_clause", Keywords: []string{"条款", "合同"}},
		},
		ActionKeywords: []models.KeywordChoice{
			{Choice: "negotiate", Keywords: []string{"协商"}},
			{Choice: "mediate", Keywords: []string{"投诉", "调解"}},
			{Choice: "litigate", Keywords: []string{"起诉", "法院"}},
		},

		StageQueries: map[models.CaseState]string{
			models.StateDisputeIdentify:     "租房 押金 退还 争议 责任 民法典 租赁合同 lease={lease_exists} handover={handover_done} damage={damage}",
			models.StateOptionSelect:        "租房 押金 {dispute_type|押金争议} 协商 投诉 起诉 维权 路径 证据",
			models.StateConsequenceFeedback: "租房 押金 {dispute_type|押金争议} {selected_action|维权路径} 证据责任 法律后果 evidence={evidence_types}",
		},

		FeedbackRules: []models.FeedbackRule{
			{
				Action: "negotiate",
				Text:   "优先协商通常成本最低。建议先发出书面催告，要求房东在合理期限内说明扣款依据并退还剩余押金。",
			},
			{
				Action: "mediate",
				Text:   "可向住建/街道调解或消费者组织投诉。若交接完成且无损坏，通常更有利于主张押金返还。",
			},
			{
				Action:        "litigate",
				WhenSlotTrue:  []string{"handover_done"},
				WhenSlotFalse: []string{"damage"},
				Text:          "若已完成交接且房屋无损坏，起诉主张返还押金的胜算通常较高，关键在证据完整性。",
			},
			{
				Action: "litigate",
				Text:   "起诉前建议补强证据（交接记录、损坏照片、修缮报价），否则争议事实不清会影响结果。",
			},
		},
		DefaultFeedback: "建议先明确争议与证据，再选择处理路径。",
	}
}

func laborWageTemplate() *models.CaseTemplate {
	return &models.CaseTemplate{
		CaseID:            "labor_wage_arrears",
		FactSlots:         []string{"employment_exists", "wage_due_amount", "overtime_dispute", "payment_overdue", "evidence_types"},
		RequiredFactSlots: []string{"employment_exists", "overtime_dispute", "payment_overdue"},
		SlotQuestions: map[string]string{
			"employment_exists": "你与用人单位是否存在劳动关系（合同/录用通知/考勤）？",
			"overtime_dispute":  "是否存在加班费争议或未按约支付加班工资？",
			"payment_overdue":   "工资是否已经逾期未发，是否超过约定发薪日？",
		},

		FactIntroOpening:  "已进入劳动争议模拟。先补齐关键事实。",
		FactIntroFollowup: "收到，我先核对劳动关系和欠薪事实。",
		FactConfirmedText: "事实已基本确认：你可以开始说明劳动争议焦点（拖欠工资、加班费或违法扣薪）。",

		DisputeQuestion: "请选择争议类型：拖欠工资 / 加班费争议 / 违法扣薪",
		DisputeActions:  []string{"arrears_wage", "overtime_pay", "illegal_deduction"},
		OptionQuestion:  "请选择方案：协商沟通 / 劳动监察投诉 / 劳动仲裁",
		OptionActions:   []string{"negotiate", "complaint", "arbitration"},

		CompletionQuestion: "是否继续：补充证据、切换方案，或结束本次模拟？",
		CompletionActions:  []string{"补充证据", "切换方案", "结束案件模拟"},
		NoEvidenceQuestion: "当前缺少直接依据，请补充劳动合同、考勤记录、工资流水后再选择方案。",
		NoEvidenceActions:  []string{"补充劳动合同", "补充考勤记录", "补充工资流水"},

		BoolSlots: []models.BoolSlotRule{
			{
				Slot:     "employment_exists",
				Positive: []string{"有劳动合同", "存在劳动关系", "入职", "录用", "打卡"},
				Negative: []string{"没有劳动关系", "没签劳动合同", "未入职"},
			},
			{
				Slot:     "overtime_dispute",
				Positive: []string{"有加班", "加班费", "超时工作", "周末加班"},
				Negative: []string{"无加班", "没有加班", "不涉及加班"},
			},
			{
				Slot:     "payment_overdue",
				Positive: []string{"拖欠工资", "未发工资", "逾期发薪", "超过发薪日", "逾期未发", "工资逾期未发", "逾期未发工资", "工资已逾期"},
				Negative: []string{"已发工资", "没有拖欠", "按时发薪"},
			},
		},
		AmountSlot: "wage_due_amount",
		EvidenceKeywords: map[string][]string{
			"labor_contract":   {"劳动合同", "录用通知", "聘用协议"},
			"attendance":       {"考勤", "打卡", "排班", "工时记录"},
			"salary_statement": {"工资条", "工资流水", "银行流水", "转账记录"},
			"chat_record":      {"聊天记录", "微信记录", "短信"},
			"audio_video":      {"录音", "录像", "视频"},
		},

		DisputeKeywords: []models.KeywordChoice{
			{Choice: "arrears_wage", Keywords: []string{"拖欠工资", "欠薪", "没发工资"}},
			{Choice: "overtime_pay", Keywords: []string{"加班费", "加班"}},
			{Choice: "illegal_deduction", Keywords: []string{"扣薪", "罚款", "克扣"}},
		},
		ActionKeywords: []models.KeywordChoice{
			{Choice: "negotiate", Keywords: []string{"协商"}},
			{Choice: "complaint", Keywords: []string{"监察", "投诉"}},
			{Choice: "arbitration", Keywords: []string{"仲裁"}},
		},

		StageQueries: map[models.CaseState]string{
			models.StateDisputeIdentify:     "劳动关系 拖欠工资 加班费 劳动合同法 工资支付条例 employment={employment_exists} overdue={payment_overdue}",
			models.StateOptionSelect:        "劳动争议 {dispute_type|欠薪争议} 协商 监察 投诉 仲裁 证据",
			models.StateConsequenceFeedback: "劳动争议 {dispute_type|欠薪争议} {selected_action|维权路径} 法律后果 证据责任 evidence={evidence_types}",
		},

		FeedbackRules: []models.FeedbackRule{
			{
				Action: "negotiate",
				Text:   "建议先保留书面催告记录并与单位协商补发工资，明确支付期限和补发金额。",
			},
			{
				Action: "complaint",
				Text:   "可向劳动监察部门投诉。若能提供考勤和工资流水，通常更利于推动单位限期改正。",
			},
			{
				Action: "arbitration",
				Text:   "申请劳动仲裁前请补齐劳动关系和欠薪证据，仲裁请求应写明拖欠工资与加班费明细。",
			},
		},
		DefaultFeedback: "建议先明确争议焦点，再选择处理路径。",
	}
}
