// Package interpret turns a loosely typed assistant reply into a decision the
// storefront can act on: what text to show, which products were referenced,
// and which follow-up effect (navigation, inline list update, cart refresh)
// the page must perform.
//
// Interpret never fails. Every field is read defensively and anything that
// cannot be extracted falls through to the next rule or to an empty default.
package interpret

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind classifies what a reply turned out to be.
type Kind string

const (
	KindPlainReply         Kind = "plain_reply"
	KindProductResults     Kind = "product_results"
	KindCartActionExecuted Kind = "cart_action_executed"
	KindRedirectPrefill    Kind = "redirect_prefill"
	KindCompareRequest     Kind = "compare_request"
)

// EffectKind is the follow-up the page performs after the turn is shown.
type EffectKind string

const (
	EffectNone                    EffectKind = "none"
	EffectNavigate                EffectKind = "navigate"
	EffectUpdateInlineProductList EffectKind = "update_inline_product_list"
)

// Source records where product ids were found.
type Source string

const (
	SourceNone     Source = "none"
	SourceIDs      Source = "suggested_product_ids"
	SourceProducts Source = "suggested_products"
	SourceText     Source = "text"
)

// NoResponseText is shown when a reply carries no usable text.
const NoResponseText = "No response."

const (
	actionAgentExecuted = "agent_executed"
	defaultAdminPath    = "/admin"

	// textualNavigateThreshold is the number of distinct product mentions
	// the text fallback needs before it may move the user off the chat.
	textualNavigateThreshold = 3
)

// searchResultActions are the action tags meaning "these are search results".
var searchResultActions = map[string]bool{
	"search_results": true,
	"product_search": true,
	"show_products":  true,
	"products":       true,
}

// Effect is the host-side action for a turn.
type Effect struct {
	Kind    EffectKind     `json:"kind"`
	Path    string         `json:"path,omitempty"`
	Prefill map[string]any `json:"prefill,omitempty"`
	IDs     []int          `json:"ids,omitempty"`
}

// None reports whether the effect asks for nothing.
func (e Effect) None() bool { return e.Kind == "" || e.Kind == EffectNone }

func navigate(path string) Effect { return Effect{Kind: EffectNavigate, Path: path} }

// Interpretation is the structured decision for one reply.
type Interpretation struct {
	Kind        Kind   `json:"kind"`
	DisplayText string `json:"display_text"`
	ProductIDs  []int  `json:"product_ids"`
	Effect      Effect `json:"effect"`

	// RefreshCart asks the host to reload the cart before applying Effect.
	RefreshCart bool `json:"refresh_cart,omitempty"`
	// Terminal is set when a short-circuit rule decided the effect and
	// product processing was skipped.
	Terminal bool   `json:"terminal,omitempty"`
	Action   string `json:"action,omitempty"`
	Source   Source `json:"source"`
	// Selection is the caller's running selection merged with ProductIDs.
	Selection []int `json:"selection"`
}

// Options carries what the host knows that the reply does not.
type Options struct {
	IsAdmin               bool
	InlineUpdateAvailable bool
}

// Interpret evaluates the reply rules in order and returns the decision.
// outgoing is the user text that produced the reply; prior is the running
// product selection, which is merged but never influences the decision.
func Interpret(raw any, outgoing string, prior []int, opts Options) (in Interpretation) {
	reply := normalizeReply(raw)

	in = Interpretation{
		Kind:        KindPlainReply,
		DisplayText: extractText(reply),
		ProductIDs:  []int{},
		Effect:      Effect{Kind: EffectNone},
		Action:      stringField(reply, "action"),
		Source:      SourceNone,
	}

	defer func() {
		in.Selection = mergeIDs(prior, in.ProductIDs)
	}()

	if in.Action == actionAgentExecuted {
		in.Kind = KindCartActionExecuted
		in.RefreshCart = true
		if path := stringField(reply, "redirect_to"); path != "" {
			in.Effect = navigate(path)
			in.Terminal = true
			return in
		}
	}

	if opts.IsAdmin {
		if prefill, path, ok := redirectPrefill(reply); ok {
			in.Kind = KindRedirectPrefill
			in.Effect = Effect{Kind: EffectNavigate, Path: path, Prefill: prefill}
			in.Terminal = true
			return in
		}
	}

	if ids := coerceIDs(reply["compare_ids"]); len(ids) > 0 {
		in.Kind = KindCompareRequest
		in.ProductIDs = ids
		in.Effect = navigate("/compare?ids=" + joinIDs(ids))
		in.Terminal = true
		return in
	}

	in.ProductIDs, in.Source = extractProductIDs(reply, in.DisplayText)
	structured := in.Source == SourceIDs || in.Source == SourceProducts

	if structured && wantsInlineDisplay(outgoing) {
		in.Kind = KindPlainReply
		in.DisplayText = formatListing(in.ProductIDs, productDetails(reply))
		return in
	}

	if len(in.ProductIDs) > 0 && shouldNavigate(in, structured) {
		in.Kind = KindProductResults
		if opts.InlineUpdateAvailable {
			in.Effect = Effect{Kind: EffectUpdateInlineProductList, IDs: append([]int(nil), in.ProductIDs...)}
		} else {
			in.Effect = navigate(ProductsPath(in.ProductIDs))
		}
	}
	return in
}

// InterpretMatches handles product ids returned by the image-similarity
// endpoint. They are treated as a tagged search result.
func InterpretMatches(ids []int, caption string, prior []int, opts Options) Interpretation {
	if strings.TrimSpace(caption) == "" {
		caption = "Here are products that look similar."
	}
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		list = append(list, id)
	}
	return Interpret(map[string]any{
		"response":              caption,
		"action":                "search_results",
		"suggested_product_ids": list,
	}, "", prior, opts)
}

// ProductsPath is the product listing URL that highlights assistant results.
func ProductsPath(ids []int) string {
	return "/products?ai_results=" + joinIDs(ids) + "&tab=ai"
}

func shouldNavigate(in Interpretation, structured bool) bool {
	if structured {
		return searchResultActions[in.Action]
	}
	return in.Source == SourceText && len(in.ProductIDs) >= textualNavigateThreshold
}

func extractText(reply map[string]any) string {
	for _, key := range []string{"response", "message"} {
		if s, ok := reply[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return NoResponseText
}

func redirectPrefill(reply map[string]any) (map[string]any, string, bool) {
	v, ok := reply["redirect_prefill"]
	if !ok || v == nil {
		return nil, "", false
	}

	var prefill map[string]any
	switch p := v.(type) {
	case map[string]any:
		prefill = p
	case bool:
		if !p {
			return nil, "", false
		}
	case string:
		if p == "" {
			return nil, "", false
		}
		prefill = map[string]any{"value": p}
	default:
		return nil, "", false
	}

	path := stringField(prefill, "path")
	if path == "" {
		path = stringField(reply, "redirect_to")
	}
	if path == "" {
		path = defaultAdminPath
	}
	return prefill, path, true
}

// normalizeReply accepts decoded JSON, raw JSON bytes or a bare string and
// always returns a non-nil map.
func normalizeReply(raw any) map[string]any {
	switch r := raw.(type) {
	case map[string]any:
		return r
	case string:
		return map[string]any{"response": r}
	case json.RawMessage:
		return decodeReply(r)
	case []byte:
		return decodeReply(r)
	}
	return map[string]any{}
}

func decodeReply(b []byte) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return map[string]any{}
	}
	return normalizeReply(v)
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
