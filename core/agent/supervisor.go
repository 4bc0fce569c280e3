package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

// sequentialOrder fixes the run order when the routing decision asks
// for sequential execution.
var sequentialOrder = []string{domain.AgentAnalyzer, domain.AgentResponder, domain.AgentOrganizer}

// Supervisor routes emails to specialist agents and synthesizes their
// results into a single recommendation.
type Supervisor struct {
	gateway   out.LLMGateway
	analyzer  *Analyzer
	responder *Responder
	organizer *Organizer
}

// NewSupervisor creates a Supervisor over the three specialist agents.
func NewSupervisor(gateway out.LLMGateway, analyzer *Analyzer, responder *Responder, organizer *Organizer) *Supervisor {
	return &Supervisor{
		gateway:   gateway,
		analyzer:  analyzer,
		responder: responder,
		organizer: organizer,
	}
}

// defaultRouting is the safe plan used whenever routing itself fails:
// analyze only, one agent, nothing to parallelize.
func defaultRouting(reason string) *domain.RoutingDecision {
	return &domain.RoutingDecision{
		Agents:            []string{domain.AgentAnalyzer},
		Priority:          domain.PriorityNormal,
		ParallelExecution: false,
		Reasoning:         reason,
	}
}

type routingResponse struct {
	Agents            []string `json:"agents_to_use"`
	Priority          string   `json:"priority"`
	ParallelExecution bool     `json:"parallel_execution"`
	Reasoning         string   `json:"reasoning"`
}

// RouteEmail decides which agents should process the email. Routing
// never fails: every error path yields the default decision.
func (s *Supervisor) RouteEmail(ctx context.Context, email *domain.Email) *domain.RoutingDecision {
	if s.gateway == nil || !s.gateway.IsConfigured() {
		return defaultRouting("llm gateway unavailable, defaulting to analysis")
	}

	response, err := s.gateway.CompleteJSON(ctx, s.routingPrompt(email))
	if err != nil {
		logger.WithError(err).Warn("supervisor: routing call failed")
		return defaultRouting("routing call failed, defaulting to analysis")
	}

	var parsed routingResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		logger.WithError(err).Warn("supervisor: malformed routing response")
		return defaultRouting("malformed routing response, defaulting to analysis")
	}

	agents := knownAgents(parsed.Agents)
	if len(agents) == 0 {
		return defaultRouting("routing selected no known agent, defaulting to analysis")
	}

	return &domain.RoutingDecision{
		Agents:            agents,
		Priority:          domain.ParsePriority(parsed.Priority),
		ParallelExecution: parsed.ParallelExecution,
		Reasoning:         parsed.Reasoning,
	}
}

// knownAgents keeps only recognized agent names, preserving order and
// dropping duplicates.
func knownAgents(names []string) []string {
	seen := make(map[string]bool, len(names))
	var agents []string
	for _, name := range names {
		switch name {
		case domain.AgentAnalyzer, domain.AgentResponder, domain.AgentOrganizer:
			if !seen[name] {
				seen[name] = true
				agents = append(agents, name)
			}
		}
	}
	return agents
}

func (s *Supervisor) routingPrompt(email *domain.Email) string {
	return fmt.Sprintf(`Decide which agents should process this email.

From: %s
Subject: %s
Body (excerpt):
%s
Has attachments: %t

Available agents:
- analyzer: summarize, prioritize and categorize the email
- responder: draft a reply
- organizer: plan attachment filing

Respond with a JSON object:
{
  "agents_to_use": ["analyzer", "responder"],
  "priority": "urgent|normal|fyi",
  "parallel_execution": true,
  "reasoning": "short justification"
}`, email.From, email.Subject, truncate(email.Body, 500), email.HasAttachments())
}

// CoordinateAgents runs the decision's agents, in parallel or in the
// fixed sequential order, and synthesizes a recommendation. One agent's
// failure never disturbs another's slot.
func (s *Supervisor) CoordinateAgents(ctx context.Context, email *domain.Email, decision *domain.RoutingDecision) *domain.AggregateResult {
	if decision == nil {
		decision = defaultRouting("no routing decision supplied")
	}

	results := make(map[string]domain.AgentResult, len(decision.Agents))
	if decision.ParallelExecution {
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, name := range decision.Agents {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				result := s.runAgent(ctx, name, email)
				mu.Lock()
				results[name] = result
				mu.Unlock()
			}(name)
		}
		wg.Wait()
	} else {
		for _, name := range sequentialOrder {
			if decision.Selected(name) {
				results[name] = s.runAgent(ctx, name, email)
			}
		}
	}

	return &domain.AggregateResult{
		RoutingDecision: decision,
		AgentResults:    results,
		Recommendation:  s.synthesize(ctx, email, decision, results),
	}
}

// runAgent dispatches to one specialist and wraps its outcome. A panic
// inside an agent becomes a failed slot rather than taking down the
// whole aggregate.
func (s *Supervisor) runAgent(ctx context.Context, name string, email *domain.Email) (result domain.AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("supervisor: agent %s panicked: %v", name, r)
			result = domain.AgentResult{Success: false, Error: fmt.Sprintf("agent %s panicked: %v", name, r)}
		}
	}()

	switch name {
	case domain.AgentAnalyzer:
		analysis := s.analyzer.AnalyzeEmail(ctx, email)
		return domain.AgentResult{Success: analysis.Success, Data: analysis}
	case domain.AgentResponder:
		reply := s.responder.GenerateReply(ctx, email)
		return domain.AgentResult{Success: reply.Success, Error: reply.Error, Data: reply}
	case domain.AgentOrganizer:
		organized := s.organizer.ManageAttachments(ctx, email)
		return domain.AgentResult{Success: organized.Success, Error: organized.Error, Data: organized}
	default:
		return domain.AgentResult{Success: false, Error: "unknown agent: " + name}
	}
}

type recommendationResponse struct {
	RecommendedActions []string `json:"recommended_actions"`
	PriorityLevel      string   `json:"priority_level"`
	Summary            string   `json:"summary"`
	NextSteps          string   `json:"next_steps"`
}

// defaultRecommendation is the well-formed fallback synthesis.
func defaultRecommendation() *domain.FinalRecommendation {
	return &domain.FinalRecommendation{
		RecommendedActions: []string{"review"},
		PriorityLevel:      domain.PriorityNormal,
		Summary:            "Agent results could not be synthesized, manual review recommended.",
		NextSteps:          "Review the email and the individual agent results.",
	}
}

// synthesize folds all agent results into one recommendation. Like
// routing, synthesis never fails.
func (s *Supervisor) synthesize(ctx context.Context, email *domain.Email, decision *domain.RoutingDecision, results map[string]domain.AgentResult) *domain.FinalRecommendation {
	if s.gateway == nil || !s.gateway.IsConfigured() {
		return defaultRecommendation()
	}

	response, err := s.gateway.CompleteJSON(ctx, s.synthesisPrompt(email, decision, results))
	if err != nil {
		logger.WithError(err).Warn("supervisor: synthesis call failed")
		return defaultRecommendation()
	}

	var parsed recommendationResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		logger.WithError(err).Warn("supervisor: malformed synthesis response")
		return defaultRecommendation()
	}
	if parsed.Summary == "" {
		return defaultRecommendation()
	}

	actions := parsed.RecommendedActions
	if len(actions) == 0 {
		actions = []string{"review"}
	}

	return &domain.FinalRecommendation{
		RecommendedActions: actions,
		PriorityLevel:      domain.ParsePriority(parsed.PriorityLevel),
		Summary:            parsed.Summary,
		NextSteps:          parsed.NextSteps,
	}
}

func (s *Supervisor) synthesisPrompt(email *domain.Email, decision *domain.RoutingDecision, results map[string]domain.AgentResult) string {
	var outcomes []string
	for _, name := range sequentialOrder {
		result, ok := results[name]
		if !ok {
			continue
		}
		status := "succeeded"
		if !result.Success {
			status = "failed: " + result.Error
		}
		outcomes = append(outcomes, fmt.Sprintf("- %s %s", name, status))
	}

	return fmt.Sprintf(`Synthesize a recommendation from these agent results.

Email subject: %s
Routing priority: %s
Agent outcomes:
%s

Respond with a JSON object:
{
  "recommended_actions": ["reply", "file_attachments"],
  "priority_level": "urgent|normal|fyi",
  "summary": "one paragraph summary",
  "next_steps": "what the user should do next"
}`, email.Subject, decision.Priority, strings.Join(outcomes, "\n"))
}
