package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"

	"lawsim-backend/models"

	"github.com/google/uuid"
)

var (
	ErrCaseSessionNotFound = errors.New("case session not found")
	ErrInvalidInput        = errors.New("user_input and user_choice are both blank")
)

// SessionStore persists case sessions between turns. Get returns
// (nil, nil) for an unknown session id.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*models.CaseSession, error)
	Save(ctx context.Context, session *models.CaseSession) error
}

// Retriever produces ranked, citable chunks for a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.RetrievedChunk, error)
}

// Fixed dialogue copy shared by all templates.
const (
	disputeRecordedText = "争议类型已记录。下一步请选择处理方案，我会给出法律后果和证据建议。"
	disputeUnclearText  = "我还无法确认争议类型，请从预设选项中选一个。"
	actionUnclearText   = "请先明确你要采用的处理方案。"

	// NoEvidenceFeedback is the only text a consequence stage may emit
	// when retrieval produced nothing citable.
	NoEvidenceFeedback = "当前检索不到可直接支撑结论的法条依据。为避免误导，先不输出确定结论，请补充关键证据后继续。"

	simulationDoneText = "本轮案件模拟已完成。你可以继续补充细节，我会按同一案件继续分析。"
	sessionEndedText   = "当前案件会话已结束，请重新开始案件模拟。"
)

const defaultStageTopK = 5

// CaseService drives the case-simulation state machine. It owns a
// session exclusively for the duration of one turn: concurrent turns on
// the same session id are serialized on an in-process per-session lock
// (single-process deployment assumption; the store itself has no CAS).
type CaseService struct {
	catalog   *CaseTemplateCatalog
	extractor *SlotExtractor
	retriever Retriever
	guard     *GroundingGuard
	sessions  SessionStore
	topK      int

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
}

// CaseServiceOption is a functional option for CaseService
type CaseServiceOption func(*CaseService)

// CaseWithCatalog sets the template catalog
func CaseWithCatalog(catalog *CaseTemplateCatalog) CaseServiceOption {
	return func(s *CaseService) {
		s.catalog = catalog
	}
}

// CaseWithSlotExtractor sets the slot extractor
func CaseWithSlotExtractor(extractor *SlotExtractor) CaseServiceOption {
	return func(s *CaseService) {
		s.extractor = extractor
	}
}

// CaseWithRetriever sets the evidence retriever
func CaseWithRetriever(retriever Retriever) CaseServiceOption {
	return func(s *CaseService) {
		s.retriever = retriever
	}
}

// CaseWithSessionStore sets the session store
func CaseWithSessionStore(store SessionStore) CaseServiceOption {
	return func(s *CaseService) {
		s.sessions = store
	}
}

// CaseWithTopK sets how many chunks are retrieved per stage query
func CaseWithTopK(topK int) CaseServiceOption {
	return func(s *CaseService) {
		s.topK = topK
	}
}

// NewCaseService creates a new case service
func NewCaseService(opts ...CaseServiceOption) *CaseService {
	s := &CaseService{
		guard:        NewGroundingGuard(),
		topK:         defaultStageTopK,
		sessionLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockSession serializes turns per session id. Entries are dropped when
// a session reaches its terminal state; sessions abandoned mid-dialogue
// keep their entry until process restart.
func (s *CaseService) lockSession(sessionID string) func() {
	s.mu.Lock()
	lock, ok := s.sessionLocks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.sessionLocks[sessionID] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// releaseSessionLock drops the lock entry for a finished session. A step
// racing the final turn re-creates the entry and takes the fixed closing
// path, so the overlap is harmless.
func (s *CaseService) releaseSessionLock(sessionID string) {
	s.mu.Lock()
	delete(s.sessionLocks, sessionID)
	s.mu.Unlock()
}

// Start validates the case id, initializes a fresh session and returns
// the fact_confirm framing turn.
func (s *CaseService) Start(ctx context.Context, caseID, sessionID string) (*models.CaseResponse, error) {
	template, err := s.catalog.TemplateFor(caseID)
	if err != nil {
		return nil, err
	}

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = "case_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session := &models.CaseSession{
		SessionID: sessionID,
		CaseID:    caseID,
		State:     models.StateFactConfirm,
		Slots:     make(map[string]any, len(template.FactSlots)),
		Path:      []string{},
	}
	for _, slot := range template.FactSlots {
		session.Slots[slot] = nil
	}
	session.Slots["evidence_types"] = []string{}

	return s.factConfirmResponse(ctx, session, template, true)
}

// Step advances a session by one turn.
func (s *CaseService) Step(ctx context.Context, sessionID, userInput, userChoice string) (*models.CaseResponse, error) {
	userInput = strings.TrimSpace(userInput)
	userChoice = strings.TrimSpace(userChoice)
	if userInput == "" && userChoice == "" {
		return nil, ErrInvalidInput
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, ErrCaseSessionNotFound
	}

	template, err := s.normalizeSession(session)
	if err != nil {
		return nil, err
	}

	resp, err := s.stepLocked(ctx, session, template, userInput, userChoice)
	if err == nil && session.State == models.StateCompleted {
		s.releaseSessionLock(sessionID)
	}
	return resp, err
}

func (s *CaseService) stepLocked(ctx context.Context, session *models.CaseSession, template *models.CaseTemplate, userInput, userChoice string) (*models.CaseResponse, error) {
	mergedText := userInput
	if mergedText == "" {
		mergedText = userChoice
	}

	switch session.State {
	case models.StateFactConfirm:
		if err := s.applyFactSlots(session, template.CaseID, mergedText); err != nil {
			return nil, err
		}
		return s.factConfirmResponse(ctx, session, template, false)
	case models.StateDisputeIdentify:
		return s.handleDisputeIdentify(ctx, session, template, userInput, userChoice)
	case models.StateOptionSelect:
		return s.handleOptionSelect(ctx, session, template, userInput, userChoice)
	case models.StateConsequenceFeedback:
		session.State = models.StateCompleted
		return s.buildResponse(ctx, session, template, turnContent{
			text:         simulationDoneText,
			nextQuestion: template.CompletionQuestion,
			nextActions:  template.CompletionActions,
			emotion:      models.EmotionSupportive,
			citations:    []models.Citation{},
		})
	default:
		// Completed or unrecognized: fixed closing, no slot mutation.
		return s.buildResponse(ctx, session, template, turnContent{
			text:        sessionEndedText,
			nextActions: []string{},
			emotion:     models.EmotionCalm,
			citations:   []models.Citation{},
		})
	}
}

// normalizeSession repairs sessions persisted by older versions: missing
// slot keys become null, evidence_types is always a string list.
func (s *CaseService) normalizeSession(session *models.CaseSession) (*models.CaseTemplate, error) {
	if session.CaseID == "" {
		session.CaseID = DefaultCaseID
	}
	template, err := s.catalog.TemplateFor(session.CaseID)
	if err != nil {
		return nil, err
	}

	if session.State == "" {
		session.State = models.StateFactConfirm
	}
	if session.Slots == nil {
		session.Slots = make(map[string]any, len(template.FactSlots))
	}
	if session.Path == nil {
		session.Path = []string{}
	}
	for _, slot := range template.FactSlots {
		if _, ok := session.Slots[slot]; !ok {
			session.Slots[slot] = nil
		}
	}
	session.Slots["evidence_types"] = slotStringSlice(session.Slots, "evidence_types")
	return template, nil
}

// applyFactSlots merges newly extracted facts into the session. Slots are
// only ever overwritten by a new non-null extraction; the evidence set
// only grows.
func (s *CaseService) applyFactSlots(session *models.CaseSession, caseID, text string) error {
	found, err := s.extractor.Extract(caseID, text)
	if err != nil {
		return err
	}

	for slot, value := range found {
		if slot == "evidence_types" {
			continue
		}
		session.Slots[slot] = value
	}

	if labels, ok := found["evidence_types"].([]string); ok && len(labels) > 0 {
		current := slotStringSlice(session.Slots, "evidence_types")
		merged := make(map[string]struct{}, len(current)+len(labels))
		for _, label := range current {
			merged[label] = struct{}{}
		}
		for _, label := range labels {
			merged[label] = struct{}{}
		}
		union := make([]string, 0, len(merged))
		for label := range merged {
			union = append(union, label)
		}
		sort.Strings(union)
		session.Slots["evidence_types"] = union
	}
	return nil
}

func (s *CaseService) factConfirmResponse(ctx context.Context, session *models.CaseSession, template *models.CaseTemplate, opening bool) (*models.CaseResponse, error) {
	missing := missingRequiredSlots(session.Slots, template)
	if len(missing) > 0 {
		prefix := template.FactIntroFollowup
		if opening {
			prefix = template.FactIntroOpening
		}
		question, ok := template.SlotQuestions[missing[0]]
		if !ok {
			question = "请补充该事实。"
		}
		return s.buildResponse(ctx, session, template, turnContent{
			text:         fmt.Sprintf("%s 当前仍缺少：%s。", prefix, strings.Join(missing, ", ")),
			nextQuestion: question,
			nextActions:  []string{},
			emotion:      models.EmotionSerious,
			citations:    []models.Citation{},
		})
	}

	session.State = models.StateDisputeIdentify
	retrieved := s.retrieveStageEvidence(ctx, session, template, models.StateDisputeIdentify)
	verdict := s.guard.Decide(retrieved, topChunkIDs(retrieved, defaultCitationCount), models.EmotionCalm)
	return s.buildResponse(ctx, session, template, turnContent{
		text:         template.FactConfirmedText,
		nextQuestion: template.DisputeQuestion,
		nextActions:  template.DisputeActions,
		emotion:      verdict.Emotion,
		citations:    verdict.Citations,
	})
}

func (s *CaseService) handleDisputeIdentify(ctx context.Context, session *models.CaseSession, template *models.CaseTemplate, userText, userChoice string) (*models.CaseResponse, error) {
	dispute := userChoice
	if dispute == "" {
		dispute = inferChoice(template.DisputeKeywords, userText)
	}
	if !containsString(template.DisputeActions, dispute) {
		return s.buildResponse(ctx, session, template, turnContent{
			text:         disputeUnclearText,
			nextQuestion: "请选择：" + strings.Join(template.DisputeActions, " / "),
			nextActions:  template.DisputeActions,
			emotion:      models.EmotionSerious,
			citations:    []models.Citation{},
		})
	}

	session.State = models.StateOptionSelect
	session.Slots["dispute_type"] = dispute
	session.Path = append(session.Path, "dispute:"+dispute)

	retrieved := s.retrieveStageEvidence(ctx, session, template, models.StateOptionSelect)
	verdict := s.guard.Decide(retrieved, topChunkIDs(retrieved, defaultCitationCount), models.EmotionSupportive)
	return s.buildResponse(ctx, session, template, turnContent{
		text:         disputeRecordedText,
		nextQuestion: template.OptionQuestion,
		nextActions:  template.OptionActions,
		emotion:      verdict.Emotion,
		citations:    verdict.Citations,
	})
}

func (s *CaseService) handleOptionSelect(ctx context.Context, session *models.CaseSession, template *models.CaseTemplate, userText, userChoice string) (*models.CaseResponse, error) {
	action := userChoice
	if action == "" {
		action = inferChoice(template.ActionKeywords, userText)
	}
	if !containsString(template.OptionActions, action) {
		return s.buildResponse(ctx, session, template, turnContent{
			text:         actionUnclearText,
			nextQuestion: "可选：" + strings.Join(template.OptionActions, " / "),
			nextActions:  template.OptionActions,
			emotion:      models.EmotionSerious,
			citations:    []models.Citation{},
		})
	}

	session.State = models.StateConsequenceFeedback
	session.Slots["selected_action"] = action
	session.Path = append(session.Path, "action:"+action)

	retrieved := s.retrieveStageEvidence(ctx, session, template, models.StateConsequenceFeedback)
	verdict := s.guard.Decide(retrieved, topChunkIDs(retrieved, defaultCitationCount), models.EmotionSupportive)

	// Without citable evidence the stage must not conclude: fixed
	// refusal text and evidence-supplementation actions instead.
	text := NoEvidenceFeedback
	nextQuestion := template.NoEvidenceQuestion
	nextActions := template.NoEvidenceActions
	if verdict.MayAssertConclusion {
		text = selectFeedback(template, action, session.Slots)
		nextQuestion = template.CompletionQuestion
		nextActions = template.CompletionActions
	}

	return s.buildResponse(ctx, session, template, turnContent{
		text:             text,
		nextQuestion:     nextQuestion,
		nextActions:      nextActions,
		emotion:          verdict.Emotion,
		citations:        verdict.Citations,
		noEvidenceReject: !verdict.MayAssertConclusion,
	})
}

// retrieveStageEvidence runs the stage-specific retrieval query. Any
// retrieval failure degrades to zero evidence; it never aborts the turn.
func (s *CaseService) retrieveStageEvidence(ctx context.Context, session *models.CaseSession, template *models.CaseTemplate, stage models.CaseState) []models.RetrievedChunk {
	queryTemplate, ok := template.StageQueries[stage]
	if !ok {
		return nil
	}
	query := interpolateQuery(queryTemplate, session.Slots)

	retrieved, err := s.retriever.Search(ctx, query, s.topK)
	if err != nil {
		log.Printf("Warning: stage evidence retrieval failed for %s/%s: %v. Continuing without evidence.", session.CaseID, stage, err)
		return nil
	}
	return retrieved
}

// selectFeedback picks the canned advisory text for the chosen action.
// The first rule whose slot conditions hold wins.
func selectFeedback(template *models.CaseTemplate, action string, slots map[string]any) string {
	for _, rule := range template.FeedbackRules {
		if rule.Action != action {
			continue
		}
		if !slotsMatch(slots, rule.WhenSlotTrue, rule.WhenSlotFalse) {
			continue
		}
		return rule.Text
	}
	return template.DefaultFeedback
}

func slotsMatch(slots map[string]any, whenTrue, whenFalse []string) bool {
	for _, slot := range whenTrue {
		if !slotBool(slots, slot) {
			return false
		}
	}
	for _, slot := range whenFalse {
		if slotBool(slots, slot) {
			return false
		}
	}
	return true
}

type turnContent struct {
	text             string
	nextQuestion     string
	nextActions      []string
	emotion          models.Emotion
	citations        []models.Citation
	noEvidenceReject bool
}

// buildResponse persists the session and assembles the turn. The
// missing-slots list is recomputed from the current slots every time,
// never cached.
func (s *CaseService) buildResponse(ctx context.Context, session *models.CaseSession, template *models.CaseTemplate, content turnContent) (*models.CaseResponse, error) {
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	resp := &models.CaseResponse{
		SessionID:        session.SessionID,
		CaseID:           session.CaseID,
		Text:             content.text,
		State:            session.State,
		Slots:            session.Slots,
		Path:             session.Path,
		MissingSlots:     missingRequiredSlots(session.Slots, template),
		NextActions:      content.nextActions,
		Citations:        content.citations,
		Emotion:          content.emotion,
		NoEvidenceReject: content.noEvidenceReject,
	}
	if content.nextQuestion != "" {
		question := content.nextQuestion
		resp.NextQuestion = &question
	}
	return resp, nil
}

func missingRequiredSlots(slots map[string]any, template *models.CaseTemplate) []string {
	missing := []string{}
	for _, slot := range template.RequiredFactSlots {
		if slots[slot] == nil {
			missing = append(missing, slot)
		}
	}
	return missing
}

func inferChoice(rules []models.KeywordChoice, userText string) string {
	text := strings.ToLower(userText)
	for _, rule := range rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(text, keyword) {
				return rule.Choice
			}
		}
	}
	return ""
}

func containsString(list []string, value string) bool {
	if value == "" {
		return false
	}
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func topChunkIDs(chunks []models.RetrievedChunk, n int) []string {
	ids := make([]string, 0, n)
	for _, chunk := range chunks {
		if len(ids) == n {
			break
		}
		ids = append(ids, chunk.ChunkID)
	}
	return ids
}

var queryPlaceholderRe = regexp.MustCompile(`\{([a-z_]+)(?:\|([^}]*))?\}`)

// interpolateQuery fills {slot} and {slot|default} placeholders from the
// session slots. Same slots always produce the same query string, which
// keeps stage retrieval deterministic.
func interpolateQuery(queryTemplate string, slots map[string]any) string {
	return queryPlaceholderRe.ReplaceAllStringFunc(queryTemplate, func(match string) string {
		groups := queryPlaceholderRe.FindStringSubmatch(match)
		value := renderSlot(slots[groups[1]])
		if value == "" {
			return groups[2]
		}
		return value
	})
}

func renderSlot(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return v
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// slotBool reads a boolean slot; null and non-boolean values are false.
func slotBool(slots map[string]any, key string) bool {
	v, _ := slots[key].(bool)
	return v
}

// slotStringSlice reads a string-list slot, tolerating the []any shape
// JSON decoding produces.
func slotStringSlice(slots map[string]any, key string) []string {
	switch v := slots[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{}
	}
}
