package core

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"intake-chatbot/internal/config"
	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

// MaxRetries is the number of rephrased attempts a topic gets before the
// stepper moves on anyway.
const MaxRetries = 2

// EngineOptions wires the collaborators shared by every session.
type EngineOptions struct {
	Dialogue  *config.Dialogue
	Client    llm.Client
	Locator   ResourceLocator   // optional, defaults to a generated lookup
	Documents DocumentGenerator // optional
	Log       *zap.Logger
	Metrics   Recorder
	// Pick chooses a greeting index in [0, n).  Defaults to math/rand.
	Pick func(n int) int
}

// Engine holds the immutable parts of the intake flow: the topic table, the
// rule matchers and the generation gateway.  It is safe for concurrent use;
// per-session state lives in Stepper.
type Engine struct {
	topics     []pkg.TopicSpec
	greetings  []string
	evaluator  *Evaluator
	gateway    *Gateway
	summarizer *Summarizer
	identity   *IdentityExtractor
	locator    ResourceLocator
	documents  DocumentGenerator
	log        *zap.Logger
	metrics    Recorder
	pick       func(int) int
}

// NewEngine validates the dialogue and compiles its rule tables.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Dialogue == nil {
		return nil, fmt.Errorf("core: dialogue is required")
	}
	if err := opts.Dialogue.Validate(); err != nil {
		return nil, err
	}
	if opts.Client == nil {
		opts.Client = llm.Offline{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopRecorder{}
	}
	if opts.Pick == nil {
		opts.Pick = rand.Intn
	}
	subjects, err := NewTopicExtractor(opts.Dialogue.Subjects)
	if err != nil {
		return nil, fmt.Errorf("core: subjects: %w", err)
	}
	identity, err := NewIdentityExtractor(opts.Dialogue.Concerns)
	if err != nil {
		return nil, fmt.Errorf("core: concerns: %w", err)
	}
	g := NewGateway(opts.Client, opts.Log, opts.Metrics)
	if opts.Locator == nil {
		opts.Locator = NewGeneratedLocator(g)
	}
	return &Engine{
		topics:     opts.Dialogue.Topics,
		greetings:  opts.Dialogue.Greetings,
		evaluator:  NewEvaluator(opts.Dialogue.Topics),
		gateway:    g,
		summarizer: NewSummarizer(g, subjects),
		identity:   identity,
		locator:    opts.Locator,
		documents:  opts.Documents,
		log:        opts.Log,
		metrics:    opts.Metrics,
		pick:       opts.Pick,
	}, nil
}

func (e *Engine) topic(n int) pkg.TopicSpec { return e.topics[n-1] }

// Transition is one recorded stage change.
type Transition struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	Turn   int       `json:"turn"`
	At     time.Time `json:"at"`
}

// Outcome is what one Start or Step produced.
type Outcome struct {
	Messages    []string
	Turns       []pkg.Turn // turns appended to the log, user turn first
	State       pkg.ConversationState
	Transitions []Transition
	Digest      *pkg.Digest
	Bundle      *pkg.ResourceBundle
	ArtifactRef string
}

// Stepper drives one session through the intake flow.  It owns the session's
// ConversationState and transcript.  A Stepper is not safe for concurrent
// use; callers serialise turns.
type Stepper struct {
	engine      *Engine
	sessionID   string
	state       pkg.ConversationState
	log         *Transcript
	transitions []Transition
	digest      *pkg.Digest
	place       string
	userTurns   int
	now         func() time.Time
}

// NewStepper returns a stepper in the Greeting stage.
func (e *Engine) NewStepper(sessionID string) *Stepper {
	return &Stepper{
		engine:    e,
		sessionID: sessionID,
		state:     pkg.ConversationState{Stage: pkg.StageGreeting},
		log:       NewTranscript(),
		now:       time.Now,
	}
}

// State returns the current conversation state.
func (s *Stepper) State() pkg.ConversationState { return s.state }

// Transcript returns a snapshot of the conversation log.
func (s *Stepper) Transcript() []pkg.Turn { return s.log.Snapshot() }

// RecentAssistant returns the latest n assistant texts, newest last.
func (s *Stepper) RecentAssistant(n int) []string { return s.log.RecentAssistant(n) }

// UserTurns returns how many user turns were committed.
func (s *Stepper) UserTurns() int { return s.userTurns }

// Transitions returns the recorded stage changes.
func (s *Stepper) Transitions() []Transition {
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Digest returns the summary once it has been produced.
func (s *Stepper) Digest() *pkg.Digest { return s.digest }

// SetPlace records a location granted by the user's device; it takes
// precedence over anything said in conversation.
func (s *Stepper) SetPlace(place string) { s.place = strings.TrimSpace(place) }

// turnTx accumulates the effects of one turn so nothing is applied until
// every generation call for the turn has returned.
type turnTx struct {
	base        []pkg.Turn
	state       pkg.ConversationState
	pending     []pkg.Turn
	messages    []string
	transitions []Transition
	digest      *pkg.Digest
	bundle      *pkg.ResourceBundle
	artifact    string
	turn        int
	now         func() time.Time
}

func (s *Stepper) begin(userText string) *turnTx {
	tx := &turnTx{
		base:  s.log.Snapshot(),
		state: s.state,
		turn:  s.userTurns,
		now:   s.now,
	}
	if userText != "" {
		tx.turn++
		tx.pending = append(tx.pending, pkg.Turn{Role: pkg.RoleUser, Text: userText, Timestamp: s.now().UTC()})
	}
	return tx
}

func (tx *turnTx) say(text string) {
	tx.pending = append(tx.pending, pkg.Turn{Role: pkg.RoleAssistant, Text: text, Timestamp: tx.now().UTC()})
	tx.messages = append(tx.messages, text)
}

func (tx *turnTx) moveTo(next pkg.ConversationState, reason string) {
	tx.transitions = append(tx.transitions, Transition{
		From:   tx.state.String(),
		To:     next.String(),
		Reason: reason,
		Turn:   tx.turn,
		At:     tx.now().UTC(),
	})
	tx.state = next
}

// context is the log as it will look once the turn commits.
func (tx *turnTx) context() []pkg.Turn {
	out := make([]pkg.Turn, 0, len(tx.base)+len(tx.pending))
	out = append(out, tx.base...)
	return append(out, tx.pending...)
}

func (s *Stepper) commit(tx *turnTx) Outcome {
	for _, t := range tx.pending {
		s.log.Append(t)
	}
	s.userTurns = tx.turn
	s.state = tx.state
	if tx.digest != nil {
		s.digest = tx.digest
	}
	for _, tr := range tx.transitions {
		s.engine.metrics.Transition(tr.From, tr.To)
		s.engine.log.Info("stage transition",
			zap.String("session_id", s.sessionID),
			zap.String("from", tr.From),
			zap.String("to", tr.To),
			zap.String("reason", tr.Reason),
			zap.Int("turn", tr.Turn))
	}
	s.transitions = append(s.transitions, tx.transitions...)
	return Outcome{
		Messages:    tx.messages,
		Turns:       tx.pending,
		State:       tx.state,
		Transitions: tx.transitions,
		Digest:      tx.digest,
		Bundle:      tx.bundle,
		ArtifactRef: tx.artifact,
	}
}

// Start moves Greeting to Topic(1) and speaks a greeting.  No user input is
// needed.
func (s *Stepper) Start(ctx context.Context) (Outcome, error) {
	if s.state.Stage != pkg.StageGreeting {
		return Outcome{}, ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("start: %w", err)
	}
	e := s.engine
	tx := s.begin("")
	tx.moveTo(pkg.ConversationState{Stage: pkg.StageTopic, TopicIndex: 1}, "session start")
	tx.say(e.greetings[e.pick(len(e.greetings))])
	return s.commit(tx), nil
}

// Step processes one user turn.  Generation failures only change what is
// said, never whether the conversation moves.  If ctx ends while the turn is
// in flight, the turn is dropped and the state is left untouched.
func (s *Stepper) Step(ctx context.Context, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("step: %w", err)
	}
	if s.state.Stage == pkg.StageGreeting {
		return Outcome{}, ErrNotStarted
	}
	tx := s.begin(text)
	switch s.state.Stage {
	case pkg.StageTopic:
		s.stepTopic(ctx, tx, text)
	case pkg.StageConsent:
		s.stepConsent(ctx, tx, text)
	case pkg.StageSummary:
		s.summarize(ctx, tx)
	case pkg.StageResourceDelivery:
		s.deliver(ctx, tx)
	case pkg.StageComplete:
		tx.say(CompleteNotice)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("turn abandoned: %w", err)
	}
	return s.commit(tx), nil
}

func (s *Stepper) stepTopic(ctx context.Context, tx *turnTx, text string) {
	e := s.engine
	n := tx.state.TopicIndex
	ok := e.evaluator.Sufficient(text, n)
	tx.state.LastAnswerSufficient = ok
	if ok {
		tx.state.RetryCount = 0
		s.advance(ctx, tx, n, "sufficient answer")
		return
	}
	tx.state.RetryCount++
	if tx.state.RetryCount <= MaxRetries {
		s.rephrase(ctx, tx, n)
		return
	}
	e.metrics.ForcedAdvance(n)
	e.log.Warn("retry ceiling reached, advancing",
		zap.String("session_id", s.sessionID),
		zap.Int("topic", n))
	tx.state.RetryCount = 0
	s.advance(ctx, tx, n, "retry ceiling")
}

func (s *Stepper) advance(ctx context.Context, tx *turnTx, n int, reason string) {
	if n >= config.TopicCount {
		next := tx.state
		next.Stage = pkg.StageSummary
		tx.moveTo(next, reason)
		s.summarize(ctx, tx)
		return
	}
	next := tx.state
	next.TopicIndex = n + 1
	tx.moveTo(next, reason)
	tx.say(s.topicReply(ctx, tx, n+1))
}

// topicReply is the per-topic response shape.  The stepper has already
// decided the next index, so the model's nextTopicIndex and askConsentNext
// are informational only.
type topicReply struct {
	Message        string `json:"message"`
	NextTopicIndex int    `json:"nextTopicIndex"`
	AskConsentNext bool   `json:"askConsentNext"`
}

func validTopicReply(r topicReply) bool { return strings.TrimSpace(r.Message) != "" }

func (s *Stepper) topicReply(ctx context.Context, tx *turnTx, n int) string {
	t := s.engine.topic(n)
	site := CallSite[topicReply]{
		Name:        "topic",
		Temperature: 0.9,
		Valid:       validTopicReply,
		Fallback:    func() topicReply { return topicReply{Message: fallbackAcknowledge + t.Question, NextTopicIndex: n} },
	}
	res := Generate(ctx, s.engine.gateway, site, Prompt{
		Instructions: []string{BaseSystemPrompt, t.Prompt, fmt.Sprintf(topicContract, n, n == config.TopicCount)},
		Turns:        tx.context(),
	})
	return strings.TrimSpace(res.Value.Message)
}

func (s *Stepper) rephrase(ctx context.Context, tx *turnTx, n int) {
	t := s.engine.topic(n)
	site := CallSite[topicReply]{
		Name:        "rephrase",
		Temperature: 0.9,
		Valid:       validTopicReply,
		Fallback:    func() topicReply { return topicReply{Message: fallbackApology + t.Question, NextTopicIndex: n} },
	}
	res := Generate(ctx, s.engine.gateway, site, Prompt{
		Instructions: []string{
			BaseSystemPrompt,
			t.Prompt,
			t.Rephrase,
			fmt.Sprintf(rephraseInstruction, tx.state.RetryCount, MaxRetries),
			fmt.Sprintf(topicContract, n, false),
		},
		Turns: tx.context(),
	})
	tx.say(strings.TrimSpace(res.Value.Message))
}

// summarize runs the Summary stage and moves on to Consent.
func (s *Stepper) summarize(ctx context.Context, tx *turnTx) {
	turns := tx.context()
	tx.say(HoldingMessage)
	digest := s.engine.summarizer.Summarize(ctx, turns)
	tx.digest = &digest
	tx.say(SummaryIntro + "\n\n" + FormatDigest(digest))

	next := tx.state
	next.Stage = pkg.StageConsent
	tx.moveTo(next, "summary ready")
	tx.say(s.consentQuestion(ctx, tx))
}

type consentReply struct {
	Question string `json:"question"`
}

func (s *Stepper) consentQuestion(ctx context.Context, tx *turnTx) string {
	id := s.engine.identity.Extract(tx.context())
	name, area := id.Name, s.locationHint(id)
	if name == "" {
		name = "unknown"
	}
	if area == "" {
		area = "unknown"
	}
	site := CallSite[consentReply]{
		Name:        "consent",
		Temperature: 0.9,
		Valid:       func(r consentReply) bool { return strings.TrimSpace(r.Question) != "" },
		Fallback:    func() consentReply { return consentReply{Question: FallbackConsentQuestion} },
	}
	res := Generate(ctx, s.engine.gateway, site, Prompt{
		Instructions: []string{BaseSystemPrompt, fmt.Sprintf(consentInstruction, name, area)},
		Turns:        tx.context(),
	})
	return strings.TrimSpace(res.Value.Question)
}

func (s *Stepper) locationHint(id Identity) string {
	if s.place != "" {
		return s.place
	}
	return id.Location
}

func (s *Stepper) stepConsent(ctx context.Context, tx *turnTx, text string) {
	granted := ClassifyConsent(text)
	next := tx.state
	next.ConsentGranted = &granted
	if !granted {
		next.Stage = pkg.StageComplete
		tx.moveTo(next, "consent declined")
		tx.say(DeclineClosing)
		return
	}
	next.Stage = pkg.StageResourceDelivery
	tx.moveTo(next, "consent granted")
	s.deliver(ctx, tx)
}

// deliver assembles the resource bundle, hands it to the document
// collaborator and completes the session.
func (s *Stepper) deliver(ctx context.Context, tx *turnTx) {
	e := s.engine
	id := e.identity.Extract(tx.context())
	bundle := BuildBundle(ctx, e.locator, s.place, e.log)
	tx.bundle = &bundle
	tx.say(FormatBundle(bundle, id.Name))

	digest := s.digest
	if tx.digest != nil {
		digest = tx.digest
	}
	if e.documents != nil && ctx.Err() == nil {
		var summary string
		if digest != nil {
			summary = FormatDigest(*digest)
		}
		comments := personalizedComments(ctx, e.gateway, id, summary)
		ref, err := e.documents.Generate(ctx, DocumentRequest{
			SessionID:   s.sessionID,
			SummaryText: summary,
			Bundle:      bundle,
			Comments:    &comments,
		})
		if err != nil {
			e.log.Error("document generation failed", zap.String("session_id", s.sessionID), zap.Error(err))
		} else {
			tx.artifact = ref
		}
	}

	next := tx.state
	next.Stage = pkg.StageComplete
	tx.moveTo(next, "resources delivered")
}
