package middleware

import (
	"regexp"
	"strings"

	"github.com/liranbd/llmcomms-go/pkg/llmcomms"
)

const (
	ctxRedactedMessages = "llm.redacted.messages"
	ctxRedactedPreview  = "llm.redacted.preview"
)

var (
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	longDigitsPattern = regexp.MustCompile(`\d{7,}`)
	credentialPattern = regexp.MustCompile(`(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*\S+`)
)

const previewMaxLen = 160

// Redaction runs immediately inside Tracing, publishing a masked message
// copy and a preview into the call context before Logging runs. It does
// not replace ctx.Request, so later stages (Validator, Cache, Terminal)
// still receive the original messages.
type Redaction struct {
	// Enabled is not read by this middleware: whether the masked message
	// copy is produced is decided per call by ctx.Options.EnableRedaction.
	// The preview is always produced regardless.
	Enabled bool
}

// NewRedaction constructs a Redaction middleware honoring ctx.Options at
// invocation time rather than at construction time (EnableRedaction is
// read per-call).
func NewRedaction() *Redaction { return &Redaction{} }

func (r *Redaction) Name() string     { return "redaction" }
func (r *Redaction) IsTerminal() bool { return false }

func (r *Redaction) Invoke(ctx *llmcomms.LLMContext, next Next) (llmcomms.Response, error) {
	r.apply(ctx)
	return next(ctx)
}

func (r *Redaction) InvokeStream(ctx *llmcomms.LLMContext, next StreamNext) (<-chan llmcomms.StreamEvent, error) {
	r.apply(ctx)
	return next(ctx)
}

func (r *Redaction) apply(ctx *llmcomms.LLMContext) {
	if ctx.Options.EnableRedaction {
		masked := make([]llmcomms.Message, len(ctx.Request.Messages))
		for i, m := range ctx.Request.Messages {
			cp := m
			cp.Content = mask(m.Content)
			masked[i] = cp
		}
		ctx.Call.Set(ctxRedactedMessages, masked)
	}
	ctx.Call.Set(ctxRedactedPreview, preview(ctx.Request.Messages))
}

func mask(s string) string {
	s = credentialPattern.ReplaceAllString(s, "$1=***CREDENTIAL***")
	s = emailPattern.ReplaceAllString(s, "***@***")
	s = longDigitsPattern.ReplaceAllString(s, "***PHONE***")
	return s
}

// preview concatenates the last one or two message contents, normalizing
// whitespace and trimming to previewMaxLen, joined by " | ".
func preview(messages []llmcomms.Message) string {
	n := len(messages)
	if n == 0 {
		return ""
	}
	start := n - 2
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, 2)
	for _, m := range messages[start:n] {
		parts = append(parts, normalizeWhitespace(m.Content))
	}
	joined := strings.Join(parts, " | ")
	if len(joined) > previewMaxLen {
		joined = joined[:previewMaxLen]
	}
	return joined
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
