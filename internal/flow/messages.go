package flow

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

// Quick-reply strings. They double as typed text for the keyword matcher.
const (
	ReplyStartBenchmarking = "Start Benchmarking"
	ReplyAskQuestion       = "Ask Question"

	PromptOffers    = "List active offers per category"
	PromptMerchants = "List newly added merchants"
	PromptScorecard = "Provide a comparative scorecard"

	ReplyShowOffers    = "Show Offer Analysis"
	ReplyShowMerchants = "Show Merchant Tracker"
	ReplyShowScorecard = "Show Scorecard"
)

// AnalysisPrompts are the three canned analysis requests offered after the
// peer set is finalized.
var AnalysisPrompts = []string{PromptOffers, PromptMerchants, PromptScorecard}

const (
	greetingText = "Hello! Welcome to the Offer Benchmarking Agent. How can I assist you today?\n\n" +
		"Do you need any help or would you like to begin benchmarking your bank's offers against competitors?"

	helpText = "I'm here to help! Please let me know what you'd like to explore or if you need assistance with anything specific."

	startText = "Great! Let's start benchmarking your bank's offers. First, please tell me your bank's name."

	identityReminderText = "Please enter your bank's name in the field below so we can get started."

	sourceReminderText = "Please provide your bank's offer data: enter the URL of your offers page or upload a CSV file."

	peerReminderText = "Select the banks you'd like to compare against, add a custom one, or click DONE when you're ready."

	analysisReminderText = "Your peer set is ready. Ask me for an analysis or pick one of the options below."

	offersText = "Here's a summary of active offers, categorized and previewed for your bank and selected competitors. " +
		"Click a category to view associated merchants.\n\n" +
		"I've displayed the analysis in the right panel. You can switch between table and chart views using the buttons above the results."

	merchantsText = "Here's a comparison of newly onboarded merchants against the previous month, for each bank.\n\n" +
		"I've displayed the merchant tracker in the right panel showing recent additions across all banks."

	scorecardText = "Here's a visual scorecard comparing your bank and selected competitors on:\n\n" +
		"• Merchant portfolio depth\n• Offer validity\n• Merchant addition rate\n\n" +
		"I've displayed the scorecard in the right panel. You can switch between table and chart views to see the data in different formats."
)

func identityEchoText(name string) string { return "Bank Name: " + name }

func identityStoredText(name string) string {
	return fmt.Sprintf("Great! I've noted your bank: %s\n\n"+
		"Now please provide your bank's offer data. You can either enter a URL to your offers page or upload a CSV file.", name)
}

func sourceEchoText(src domain.DataSource) string {
	if src.Kind == domain.SourceFile {
		return "Uploaded file: " + src.Value
	}
	return "URL: " + src.Value
}

func sourceStoredText(identity string, src domain.DataSource) string {
	if src.Kind == domain.SourceFile {
		return fmt.Sprintf("Excellent! I've received your file: %s\n\n"+
			"Now let's select competitors for comparison. Here are some top UAE banks I've identified:", src.Value)
	}
	return fmt.Sprintf("Perfect! I've received your bank data:\n• Bank: %s\n• URL: %s\n\n"+
		"Now let's select competitors for comparison. Here are some top UAE banks I've identified:", identity, src.Value)
}

func customPeerAddedText(name string) string {
	return fmt.Sprintf("Added custom competitor: %s\n\nYou can add more competitors or click DONE when you're ready to proceed.", name)
}

func summaryText(included []domain.Peer) string {
	var b strings.Builder
	noun := "competitors"
	if len(included) == 1 {
		noun = "competitor"
	}
	fmt.Fprintf(&b, "Perfect! You've selected %d %s:\n\n", len(included), noun)
	for _, p := range included {
		fmt.Fprintf(&b, "• %s\n", p.Name)
	}
	b.WriteString("\nNow you can ask me to perform various analyses:")
	return b.String()
}

func customAnalysisText(query string) string {
	return fmt.Sprintf("I'm analyzing your query: %q\n\n"+
		"Based on the data, here are the insights I've found. I've displayed the analysis results in the right panel.", query)
}

// analysisReply returns the canned description and follow-up quick replies
// for a selected analysis.
func analysisReply(signal domain.AnalysisSignal) (string, []string) {
	switch signal.Kind {
	case domain.AnalysisOffers:
		return offersText, []string{ReplyShowMerchants, ReplyShowScorecard}
	case domain.AnalysisPeersNewAdditions:
		return merchantsText, []string{ReplyShowOffers, ReplyShowScorecard}
	case domain.AnalysisScorecard:
		return scorecardText, []string{ReplyShowOffers, ReplyShowMerchants}
	default:
		return customAnalysisText(signal.Query), []string{ReplyShowOffers, ReplyShowScorecard}
	}
}
