package core

// prompts.go defines the instructions sent to the generation service and the
// fixed texts used when it fails.  Keeping them in one file makes them easy
// to tweak without touching the state machine.

const (
	// BaseSystemPrompt is prepended to every generation request.
	BaseSystemPrompt = "You are a supportive mental health listener talking with someone who may be in distress. " +
		"Keep a warm, validating, non-judgmental tone and keep every reply under 60 words. " +
		"Never diagnose and never give clinical advice. Remember what the user said and refer to it."

	// topicContract fixes the JSON shape of a per-topic reply.  The stepper
	// fills in the values it has already decided; the model only writes the
	// message.
	topicContract = `Respond with a single JSON object: {"message": "<your reply>", "nextTopicIndex": %d, "askConsentNext": %t}.`

	// rephraseInstruction is appended when an answer was insufficient.
	rephraseInstruction = "Important: the user's answer was insufficient (attempt %d of %d). " +
		"Apologise gently, restate the question and encourage them to elaborate. Do not advance the topic index."

	// SummaryInstruction asks for the five-section clinical digest.
	SummaryInstruction = "You are a clinical mental health professional writing a structured assessment summary for a referral. " +
		"Write in a professional third-person voice (\"the patient reports...\") without direct quotes. " +
		"Use exactly these five sections, each two or three sentences: " +
		"1) PRESENTING CONCERNS 2) EMOTIONAL STATE 3) RISK FACTORS 4) SUPPORT NEEDS 5) RECOMMENDED CARE. " +
		"If the user expressed openness to professional help, say so under RECOMMENDED CARE. " +
		`Return JSON: {"summary": "<all five sections in one string, each starting with its numbered heading>"}.`

	// whitelistInstruction is the hard anti-fabrication constraint.
	whitelistInstruction = "IMPORTANT: only include topics the user explicitly mentioned. The user explicitly mentioned: %s. " +
		"Do NOT mention or reference any topic outside this list, and do not invent or assume details about people, pets, or life events the user has not shared."

	// emptyWhitelistInstruction replaces the list when the user raised no
	// recognised subject.
	emptyWhitelistInstruction = "IMPORTANT: the user did not explicitly name any specific life events, people, or pets. " +
		"Describe only feelings and needs stated in the conversation; do not invent or assume any people, pets, or events."

	// consentInstruction asks for the personalised offer of help.
	consentInstruction = "Based on the conversation, write one warm, non-pressuring question (two or three sentences at most) " +
		"asking whether the user would like help finding mental health resources. " +
		"Use their name (%s) if known and refer to their area (%s) if relevant. Vary the phrasing. " +
		`Return JSON: {"question": "<the question>"}.`

	// servicesInstruction asks for location-scoped services.
	servicesInstruction = "List three to five real mental health services (therapy, counselling, psychiatry) in %s. " +
		`Return JSON: {"services": [{"name": "", "phone": "", "address": "", "description": ""}]}. No text outside the JSON.`

	// commentsInstruction asks for the optional personalised remarks.
	commentsInstruction = "You are a mental health specialist. Based on this summary, write a personalised two or three sentence closing message " +
		"that offers hope and encourages appropriate care, addressing %s, and recommend two or three provider types. " +
		"Concerns identified: %s. " +
		`Return JSON: {"finalComments": "", "doctorRecommendations": [{"providerType": "", "rationale": "", "expectations": "", "credentials": ""}]}.` +
		"\n\nSUMMARY:\n%s"
)

// Fixed texts.
const (
	// HoldingMessage is spoken while the summary is generated.
	HoldingMessage = "Thank you for sharing all of that with me. Let me put together what you've told me."

	// SummaryIntro precedes the digest.
	SummaryIntro = "Based on our conversation, here is a summary:"

	// FallbackConsentQuestion is used when the personalised question fails.
	FallbackConsentQuestion = "Would you like me to help you find mental health resources in your area?"

	// fallbackApology prefixes the topic question on a failed rephrase.
	fallbackApology = "I'm sorry, I didn't quite catch enough there. "

	// fallbackAcknowledge prefixes the next topic question on a failed reply.
	fallbackAcknowledge = "Thank you for sharing that with me. "

	// DeclineClosing ends a session where help was declined.
	DeclineClosing = "I understand. If you ever need resources in the future, don't hesitate to reach out. Thank you for talking with me today."

	// SupportiveClosing ends every resource bundle.  It must not contain a
	// question.
	SupportiveClosing = "Remember that reaching out is a sign of strength. Support is always available when you need it."

	// CompleteNotice answers any input after the session has finished.
	CompleteNotice = "Thank you for talking with me today. If you'd like to talk again, please start a new session."

	// CapMessage is sent when the user exceeds the message cap for a
	// session.
	CapMessage = "We've reached the message limit for this session. Thank you for sharing; your summary is ready for a clinician to review."

	// ShortConversationSummary replaces the digest when there is too little
	// conversation to summarise.
	ShortConversationSummary = "Not enough conversation to create a meaningful summary."
)
