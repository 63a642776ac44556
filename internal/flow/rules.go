package flow

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/offer-benchmark-agent/internal/domain"
)

type predicate func(st *step) bool

type transition func(st *step)

// rule is one (predicate, transition) row. Rules for a stage are evaluated
// top to bottom and the first match wins.
type rule struct {
	name string
	when predicate
	then transition
}

func kindIs(kinds ...domain.InputKind) predicate {
	return func(st *step) bool {
		for _, k := range kinds {
			if st.in.Kind == k {
				return true
			}
		}
		return false
	}
}

func textContains(keywords ...string) predicate {
	return func(st *step) bool {
		return st.in.IsTextual() && containsAny(st.in.Text, keywords)
	}
}

func isTextual(st *step) bool { return st.in.IsTextual() }

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

type analysisMatcher struct {
	kind     domain.AnalysisKind
	keywords []string
}

// analysisMatchers is the keyword precedence for analysis requests.
var analysisMatchers = []analysisMatcher{
	{kind: domain.AnalysisOffers, keywords: []string{"offer", "category"}},
	{kind: domain.AnalysisPeersNewAdditions, keywords: []string{"merchant"}},
	{kind: domain.AnalysisScorecard, keywords: []string{"scorecard", "score"}},
}

// MatchAnalysis resolves free text to an analysis signal using the same
// precedence as the analysis-stage rules. Text matching nothing is a custom
// query.
func MatchAnalysis(text string) domain.AnalysisSignal {
	for _, m := range analysisMatchers {
		if containsAny(text, m.keywords) {
			return domain.AnalysisSignal{Kind: m.kind}
		}
	}
	return domain.CustomAnalysis(strings.TrimSpace(text))
}

var (
	greetingRules = []rule{
		{name: "start-benchmarking", when: textContains("start", "benchmark"), then: startBenchmarking},
	}

	identityRules = []rule{
		{name: "identity", when: kindIs(domain.InputIdentity), then: storeIdentity},
	}

	sourceRules = []rule{
		{name: "source-link", when: kindIs(domain.InputSourceLink), then: storeSource},
		{name: "source-file", when: kindIs(domain.InputSourceFile), then: storeSource},
	}

	peerRules = []rule{
		{name: "peer-toggle", when: kindIs(domain.InputPeerToggle), then: togglePeer},
		{name: "custom-peer", when: kindIs(domain.InputCustomPeer), then: addCustomPeer},
		{name: "peer-remove", when: kindIs(domain.InputPeerRemove), then: removePeer},
		{name: "peers-done", when: kindIs(domain.InputPeersDone), then: finishPeers},
	}

	analysisRules = buildAnalysisRules()
)

func buildAnalysisRules() []rule {
	var out []rule
	for _, m := range analysisMatchers {
		out = append(out, rule{
			name: "analysis-" + string(m.kind),
			when: textContains(m.keywords...),
			then: selectAnalysis(m.kind),
		})
	}
	out = append(out, rule{name: "analysis-custom", when: isTextual, then: selectCustomAnalysis})
	return append(out, peerRules...)
}

func rulesFor(stage domain.Stage) []rule {
	switch stage {
	case domain.StageGreeting:
		return greetingRules
	case domain.StageAwaitingIdentity:
		return identityRules
	case domain.StageAwaitingSource:
		return sourceRules
	case domain.StageSelectingPeers:
		return peerRules
	case domain.StagePeersConfirmed, domain.StageAwaitingAnalysis:
		return analysisRules
	default:
		return nil
	}
}

func startBenchmarking(st *step) {
	st.echo(st.text())
	st.reply(startText, domain.AffordanceIdentityForm)
	st.next.Stage = domain.StageAwaitingIdentity
}

func storeIdentity(st *step) {
	if st.prev.Identity != "" {
		st.fail(fmt.Errorf("%w: identity already set", domain.ErrUnexpectedInput))
		return
	}
	name := strings.TrimSpace(st.in.Name)
	st.echo(identityEchoText(name))
	st.next.Identity = name
	st.reply(identityStoredText(name), domain.AffordanceSourceForm)
	st.next.Stage = domain.StageAwaitingSource
	st.effect(EffectIdentity)
}

func storeSource(st *step) {
	if st.prev.Identity == "" {
		st.fail(fmt.Errorf("%w: data source before identity", domain.ErrUnexpectedInput))
		return
	}
	src := domain.DataSource{Kind: domain.SourceLink, Value: strings.TrimSpace(st.in.Reference)}
	if st.in.Kind == domain.InputSourceFile {
		src.Kind = domain.SourceFile
	}
	st.echo(sourceEchoText(src))
	st.next.Source = &src
	if st.prev.Peers.Len() == 0 {
		st.next.Peers = st.prev.Catalog.PeerSet()
	}
	st.reply(sourceStoredText(st.prev.Identity, src), domain.AffordancePeerPicker)
	st.next.Stage = domain.StageSelectingPeers
}

func togglePeer(st *step) {
	id := strings.TrimSpace(st.in.PeerID)
	if next, ok := st.prev.Peers.Toggle(id); ok {
		st.next.Peers = next
		return
	}
	p, ok := st.prev.Catalog.Lookup(id)
	if !ok {
		p = domain.Peer{ID: id, Name: id}
	}
	p.Included = true
	next, err := st.prev.Peers.Insert(p)
	if err != nil {
		st.fail(err)
		return
	}
	st.next.Peers = next
}

func addCustomPeer(st *step) {
	name := strings.TrimSpace(st.in.Name)
	ref := strings.TrimSpace(st.in.Reference)

	st.next.Seq++
	id := customPeerID(st.next.Seq)
	for st.prev.Peers.Has(id) {
		st.next.Seq++
		id = customPeerID(st.next.Seq)
	}

	next, err := st.prev.Peers.Insert(domain.Peer{ID: id, Name: name, Reference: ref, Included: true})
	if err != nil {
		st.fail(err)
		return
	}
	st.next.Peers = next
	st.reply(customPeerAddedText(name), domain.AffordancePeerPicker)
}

func removePeer(st *step) {
	next, err := st.prev.Peers.Remove(strings.TrimSpace(st.in.PeerID))
	if err != nil {
		st.fail(err)
		return
	}
	st.next.Peers = next
}

func finishPeers(st *step) {
	included := st.prev.Peers.Included()
	if len(included) == 0 {
		st.fail(domain.ErrNoPeersIncluded)
		return
	}
	st.reply(summaryText(included), domain.AffordanceNone, AnalysisPrompts...)
	st.next.Stage = domain.StageAwaitingAnalysis
	st.effect(EffectPeerSet)
}

func selectAnalysis(kind domain.AnalysisKind) transition {
	return func(st *step) {
		signal := domain.AnalysisSignal{Kind: kind}
		st.echo(st.text())
		st.next.Analysis = signal
		text, quick := analysisReply(signal)
		st.reply(text, domain.AffordanceNone, quick...)
		st.effect(EffectAnalysis)
	}
}

func selectCustomAnalysis(st *step) {
	signal := domain.CustomAnalysis(st.text())
	st.echo(st.text())
	st.next.Analysis = signal
	text, quick := analysisReply(signal)
	st.delegate(st.reply(text, domain.AffordanceNone, quick...))
	st.effect(EffectAnalysis)
}

// fallback emits the single turn for an input no rule matched. It re-shows
// the surface the stage is waiting on.
func fallback(st *step) {
	textual := st.in.IsTextual()
	if textual {
		st.echo(st.text())
	}

	var i int
	switch st.prev.Stage {
	case domain.StageGreeting:
		i = st.reply(helpText, domain.AffordanceNone, ReplyStartBenchmarking, ReplyAskQuestion)
	case domain.StageAwaitingIdentity:
		i = st.reply(identityReminderText, domain.AffordanceIdentityForm)
	case domain.StageAwaitingSource:
		i = st.reply(sourceReminderText, domain.AffordanceSourceForm)
	case domain.StageSelectingPeers:
		i = st.reply(peerReminderText, domain.AffordancePeerPicker)
	default:
		i = st.reply(analysisReminderText, domain.AffordanceNone, AnalysisPrompts...)
	}
	if textual {
		st.delegate(i)
	}
}
