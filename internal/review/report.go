package review

// DetectionResult classifies one slide's likely authorship.
type DetectionResult string

const (
	// DetectionLikelyAI means the text shows strong machine-generation
	// markers.
	DetectionLikelyAI DetectionResult = "likely_ai"

	// DetectionPossiblyAI means some markers are present but inconclusive.
	DetectionPossiblyAI DetectionResult = "possibly_ai"

	// DetectionLikelyHuman means the text reads as human-written.
	DetectionLikelyHuman DetectionResult = "likely_human"

	// DetectionUncertain means the detector could not decide.
	DetectionUncertain DetectionResult = "uncertain"
)

// IsValid reports whether r is a recognised detection result.
func (r DetectionResult) IsValid() bool {
	switch r {
	case DetectionLikelyAI, DetectionPossiblyAI, DetectionLikelyHuman, DetectionUncertain:
		return true
	}
	return false
}

// SectionDetection is the AI-content verdict for one slide.
type SectionDetection struct {
	// SlideNumber is the slide this verdict covers.
	SlideNumber int `json:"slide_number"`

	// Result is the authorship classification.
	Result DetectionResult `json:"result"`

	// Confidence is the detector's certainty, 0–100.
	Confidence int `json:"confidence"`

	// Indicators lists the markers the verdict rests on.
	Indicators []string `json:"indicators,omitempty"`

	// Explanation is the detector's free-text reasoning.
	Explanation string `json:"explanation,omitempty"`
}

// AIDetectionReport aggregates per-slide detections across the artifact.
type AIDetectionReport struct {
	// OverallResult is the whole-artifact classification.
	OverallResult DetectionResult `json:"overall_result"`

	// OverallConfidence is the aggregate certainty, 0–100.
	OverallConfidence int `json:"overall_confidence"`

	// TotalSections is how many slides were examined.
	TotalSections int `json:"total_sections"`

	// AILikelySections counts slides classified likely_ai.
	AILikelySections int `json:"ai_likely_sections"`

	// Sections holds the per-slide verdicts in slide order.
	Sections []SectionDetection `json:"sections"`

	// Summary is a one-paragraph digest for the final report.
	Summary string `json:"summary,omitempty"`
}

// Clone returns a deep copy of the report.
func (r AIDetectionReport) Clone() AIDetectionReport {
	out := r
	if r.Sections != nil {
		out.Sections = make([]SectionDetection, len(r.Sections))
		for i, s := range r.Sections {
			s.Indicators = cloneStrings(s.Indicators)
			out.Sections[i] = s
		}
	}
	return out
}

// Recommendation is the final report's verdict.
type Recommendation string

const (
	// RecommendPass means the candidate clearly owns the work.
	RecommendPass Recommendation = "pass"

	// RecommendConditionalPass means ownership is plausible with noted
	// gaps.
	RecommendConditionalPass Recommendation = "conditional_pass"

	// RecommendFail means the candidate does not own the work.
	RecommendFail Recommendation = "fail"

	// RecommendNeedsReview means a human should look at the session.
	RecommendNeedsReview Recommendation = "needs_review"
)

// IsValid reports whether r is a recognised recommendation.
func (r Recommendation) IsValid() bool {
	switch r {
	case RecommendPass, RecommendConditionalPass, RecommendFail, RecommendNeedsReview:
		return true
	}
	return false
}

// Report is the session's final assessment.
type Report struct {
	// TechnicalUnderstanding grades depth of technical grasp, 1–10.
	TechnicalUnderstanding int `json:"technical_understanding"`

	// ProjectOwnership grades how much of the work is the candidate's
	// own, 1–10.
	ProjectOwnership int `json:"project_ownership"`

	// CommunicationClarity grades how clearly answers were expressed,
	// 1–10.
	CommunicationClarity int `json:"communication_clarity"`

	// AIContentConcerns carries forward detector findings worth flagging.
	AIContentConcerns []string `json:"ai_content_concerns,omitempty"`

	// KnowledgeGaps lists topics the candidate could not speak to.
	KnowledgeGaps []string `json:"knowledge_gaps,omitempty"`

	// OverallAssessment is the narrative summary.
	OverallAssessment string `json:"overall_assessment"`

	// Recommendation is the verdict.
	Recommendation Recommendation `json:"recommendation"`

	// NextSteps suggests follow-up actions for the reviewing team.
	NextSteps []string `json:"next_steps,omitempty"`
}

// Clone returns a deep copy of the report.
func (r Report) Clone() Report {
	out := r
	out.AIContentConcerns = cloneStrings(r.AIContentConcerns)
	out.KnowledgeGaps = cloneStrings(r.KnowledgeGaps)
	out.NextSteps = cloneStrings(r.NextSteps)
	return out
}
