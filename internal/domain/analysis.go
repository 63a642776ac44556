package domain

// AnalysisKind names the analysis view that should render.
type AnalysisKind string

const (
	AnalysisNone              AnalysisKind = "none"
	AnalysisOffers            AnalysisKind = "offers"
	AnalysisPeersNewAdditions AnalysisKind = "peers-new-additions"
	AnalysisScorecard         AnalysisKind = "scorecard"
	AnalysisCustom            AnalysisKind = "custom"
)

// AnalysisSignal is the derived indicator of which result view is active.
// Query is only set for AnalysisCustom.
type AnalysisSignal struct {
	Kind  AnalysisKind `json:"kind"`
	Query string       `json:"query,omitempty"`
}

// NoAnalysis is the signal before any analysis has been requested.
var NoAnalysis = AnalysisSignal{Kind: AnalysisNone}

// CustomAnalysis builds the signal for a free-form query.
func CustomAnalysis(query string) AnalysisSignal {
	return AnalysisSignal{Kind: AnalysisCustom, Query: query}
}

// IsNone reports whether no analysis is selected.
func (a AnalysisSignal) IsNone() bool {
	return a.Kind == "" || a.Kind == AnalysisNone
}

// Title is the heading the view layer shows for the signal.
func (a AnalysisSignal) Title() string {
	switch a.Kind {
	case AnalysisOffers:
		return "Offer Portfolio Analysis"
	case AnalysisPeersNewAdditions:
		return "New Merchant Tracker"
	case AnalysisScorecard:
		return "Comparative Scorecard"
	case AnalysisCustom:
		return "Custom Analysis"
	default:
		return ""
	}
}

// ViewType is the default presentation of the view. Every canned view opens
// as a table; the view layer may switch to a chart locally.
func (a AnalysisSignal) ViewType() string {
	if a.IsNone() {
		return ""
	}
	return "table"
}
