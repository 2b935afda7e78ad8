// Package analyzer answers structured questions over collected inventory
// without a language model.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/skyquery/pkg/inventory"
)

type analyzeFunc func(question string, data inventory.RawResourceSet) Result

type template struct {
	kind    QueryType
	pattern *regexp.Regexp
	analyze analyzeFunc
}

// templates are tried in order against the lowercased question.
var templates = []template{
	{EC2WithSecurityGroups, regexp.MustCompile(`(running\s+ec2|ec2.*running).*security\s+group`), analyzeEC2SecurityGroups},
	{SecurityGroupUsage, regexp.MustCompile(`security\s+group.*usage|which.*security\s+group`), analyzeSecurityGroupUsage},
	{VPCResources, regexp.MustCompile(`vpc.*resource|resource.*vpc`), analyzeVPCResources},
	{InstanceDetails, regexp.MustCompile(`instance.*detail|detail.*instance`), analyzeInstanceDetails},
	{CostAnalysis, regexp.MustCompile(`cost|expensive|cheap|price`), analyzeCost},
	{ComplianceCheck, regexp.MustCompile(`compliance|compliant|standard|policy`), analyzeCompliance},
	{ResourceRelationships, regexp.MustCompile(`relationship|connect|depend|link`), analyzeRelationships},
	{UnusedResources, regexp.MustCompile(`unused|idle|orphan|waste`), analyzeUnused},
}

// Types returns the structured query types in priority order.
func Types() []QueryType {
	out := make([]QueryType, len(templates))
	for i, t := range templates {
		out[i] = t.kind
	}
	return out
}

// Detect returns the first query type whose pattern matches, or General.
func Detect(question string) QueryType {
	q := strings.ToLower(question)
	for _, t := range templates {
		if t.pattern.MatchString(q) {
			return t.kind
		}
	}
	return General
}

// Route runs the analyzer of the first matching template. A question that
// matches nothing, or an analyzer that fails, yields a General result.
func Route(question string, data inventory.RawResourceSet) (res Result) {
	kind := Detect(question)
	if kind == General {
		return general(NotRecognized)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("query_type", string(kind)).Interface("panic", r).Msg("analyzer panicked")
			res = general(fmt.Sprintf("%s analysis failed: %v", kind, r))
		}
	}()

	for _, t := range templates {
		if t.kind == kind {
			return t.analyze(question, data)
		}
	}
	return general(NotRecognized)
}

func general(msg string) Result {
	return Result{Type: General, Message: msg}
}
