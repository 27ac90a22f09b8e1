package summarizer

import (
	"strings"

	"github.com/samber/lo"

	"github.com/dnephew1/resumos/pkg/resumos/channels"
)

// UnknownSender is shown for authors without any known name.
const UnknownSender = "Unknown"

// DefaultSystemPrompt is sent as the system message of every completion.
const DefaultSystemPrompt = "You are a WhatsApp group assistant."

// Template holds the fixed prompt text. The request lines may reference the
// requester with {requester}.
type Template struct {
	// Role describes the bot's job and precedes every prompt.
	Role string `yaml:"role"`

	// TimeWindowRequest introduces a time-window summary.
	TimeWindowRequest string `yaml:"time_window_request"`

	// CountRequest introduces a count summary.
	CountRequest string `yaml:"count_request"`
}

// DefaultTemplate returns the Portuguese relief-coordination prompt.
func DefaultTemplate() Template {
	return Template{
		Role: "Você é um bot assistente pessoal em um grupo de WhatsApp, o qual está coordenando ajuda e " +
			"suprimentos para uma região afetada por um desastre natural. Sua função é resumir as mensagens, " +
			"mantendo as informações relevantes ao grupo, preservando detalhes acionáveis (o quê, quanto, onde, " +
			"contato) e distinguindo ofertas de doação de pedidos de doação.\n\n",
		TimeWindowRequest: "{requester} está pedindo para que você faça um resumo das mensagens dessa conversa " +
			"do grupo e diga no início da sua resposta que esse é o resumo das mensagens na última hora:\n",
		CountRequest: "{requester} está pedindo para que você faça um resumo dessas últimas mensagens dessa " +
			"conversa do grupo:\n",
	}
}

// withDefaults fills empty fields from DefaultTemplate.
func (t Template) withDefaults() Template {
	d := DefaultTemplate()
	t.Role = lo.Ternary(t.Role == "", d.Role, t.Role)
	t.TimeWindowRequest = lo.Ternary(t.TimeWindowRequest == "", d.TimeWindowRequest, t.TimeWindowRequest)
	t.CountRequest = lo.Ternary(t.CountRequest == "", d.CountRequest, t.CountRequest)
	return t
}

// DisplayName picks the first known name of a sender.
func DisplayName(s channels.Sender) string {
	name, _ := lo.Coalesce(
		strings.TrimSpace(s.PushName),
		strings.TrimSpace(s.ContactName),
		strings.TrimSpace(s.Number),
		UnknownSender,
	)
	return name
}

// FormatLine renders one message as it appears in the prompt block.
func FormatLine(m channels.ChatMessage) string {
	return ">>" + DisplayName(m.Sender) + ": " + m.Body + ".\n"
}

// Format builds the prompt for a window. It is pure: the same window and
// template always give the same prompt. An empty window yields an empty Block.
func Format(w EligibleWindow, tmpl Template) FormattedPrompt {
	lines := lo.Map(w.Messages, func(m channels.ChatMessage, _ int) string {
		return FormatLine(m)
	})
	return FormattedPrompt{
		Preamble: preamble(w, tmpl),
		Block:    strings.Join(lines, " "),
	}
}

func preamble(w EligibleWindow, tmpl Template) string {
	request := tmpl.TimeWindowRequest
	if w.Mode == ModeCount {
		request = tmpl.CountRequest
	}
	requester := lo.Ternary(w.RequestedBy == "", UnknownSender, w.RequestedBy)
	return tmpl.Role + strings.ReplaceAll(request, "{requester}", requester)
}
