// Package policy evaluates attachment admission rules with OPA.
package policy

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/xiaot623/aichat/protocol"
)

// Decisions returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// DefaultPolicy admits attachments whose content type matches one of the
// allowed prefixes and whose size is within max_bytes. A max_bytes of zero
// disables the size limit and an empty allow list admits every type.
const DefaultPolicy = `
package chat.attachments

default allowed_type := false

allowed_type if count(input.allowed_types) == 0

allowed_type if {
	some prefix in input.allowed_types
	startswith(input.content_type, prefix)
}

reasons contains "attachment exceeds size limit" if {
	input.max_bytes > 0
	input.size > input.max_bytes
}

reasons contains sprintf("content type %s is not allowed", [input.content_type]) if {
	not allowed_type
}

default decision := "allow"

decision := "block" if count(reasons) > 0

result := {"decision": decision, "reasons": reasons}
`

// Decision is the outcome of evaluating one attachment.
type Decision struct {
	Decision string
	Reasons  []string
}

// Allowed reports whether the attachment may be forwarded.
func (d Decision) Allowed() bool {
	return d.Decision != DecisionBlock
}

// BlockedError is returned when a request carries an attachment the policy blocks.
type BlockedError struct {
	Filename string
	Reasons  []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("attachment %q rejected: %s", e.Filename, strings.Join(e.Reasons, "; "))
}

// Engine is the OPA attachment policy engine.
type Engine struct {
	query        rego.PreparedEvalQuery
	maxBytes     int
	allowedTypes []string
}

// NewEngine prepares policyContent. An empty policyContent uses DefaultPolicy.
func NewEngine(ctx context.Context, policyContent string, maxBytes int, allowedTypes []string) (*Engine, error) {
	if policyContent == "" {
		policyContent = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.chat.attachments.result"),
		rego.Module("attachments.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	allowed := make([]string, 0, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed = append(allowed, strings.ToLower(t))
	}
	return &Engine{query: query, maxBytes: maxBytes, allowedTypes: allowed}, nil
}

// Evaluate checks a single attachment.
func (e *Engine) Evaluate(ctx context.Context, a protocol.Attachment) (Decision, error) {
	input := map[string]interface{}{
		"filename":      a.Filename,
		"content_type":  mediaType(a.ContentType),
		"size":          len(a.Data),
		"max_bytes":     e.maxBytes,
		"allowed_types": e.allowedTypes,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Decision: DecisionAllow}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	d := Decision{Decision: DecisionAllow}
	if s, ok := obj["decision"].(string); ok {
		d.Decision = s
	}
	if rs, ok := obj["reasons"].([]interface{}); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				d.Reasons = append(d.Reasons, s)
			}
		}
	}
	return d, nil
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
