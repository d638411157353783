package interpret

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// mentionPattern finds "Product #12", "product 12" and "PRODUCT#12".
var mentionPattern = regexp.MustCompile(`(?i)\bproduct\s*#?\s*(\d+)`)

// inlinePhrases mean "show the results here in the chat".
var inlinePhrases = []string{
	"show it here",
	"show them here",
	"show me here",
	"show here",
	"display it here",
	"display them here",
	"display here",
	"list it here",
	"list them here",
	"list here",
	"in the chat",
	"in chat",
}

// extractProductIDs returns the ids from the first non-empty source.
func extractProductIDs(reply map[string]any, text string) ([]int, Source) {
	if ids := coerceIDs(reply["suggested_product_ids"]); len(ids) > 0 {
		return ids, SourceIDs
	}
	if ids := productObjectIDs(reply["suggested_products"]); len(ids) > 0 {
		return ids, SourceProducts
	}
	if ids := mentionedIDs(text); len(ids) > 0 {
		return ids, SourceText
	}
	return []int{}, SourceNone
}

// coerceIDs converts a list of loosely typed values into positive,
// de-duplicated ids, preserving order.
func coerceIDs(v any) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, item := range asList(v) {
		id, ok := toID(item)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// productObjectIDs reads the id of each product object. A bare number is
// accepted in place of an object.
func productObjectIDs(v any) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, item := range asList(v) {
		var raw any = item
		if obj, ok := item.(map[string]any); ok {
			raw = obj["id"]
		}
		id, ok := toID(raw)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func mentionedIDs(text string) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func asList(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []int:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out
	case []float64:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out
	case []string:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out
	case []map[string]any:
		out := make([]any, len(l))
		for i, x := range l {
			out[i] = x
		}
		return out
	}
	return nil
}

// toID coerces a JSON-ish value to a positive integer. Fractions truncate
// toward zero.
func toID(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	id := int(math.Trunc(f))
	if id <= 0 {
		return 0, false
	}
	return id, true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return float64(i), true
		}
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// mergeIDs returns the order-preserving union of a and b.
func mergeIDs(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	seen := make(map[int]bool, len(a)+len(b))
	for _, list := range [][]int{a, b} {
		for _, id := range list {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// MergeSelection exposes the selection merge for callers that receive ids
// from outside a reply.
func MergeSelection(prior, ids []int) []int { return mergeIDs(prior, ids) }

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func wantsInlineDisplay(outgoing string) bool {
	text := strings.Join(strings.Fields(strings.ToLower(outgoing)), " ")
	if text == "" {
		return false
	}
	for _, p := range inlinePhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

type productDetail struct {
	name     string
	price    float64
	category string
	color    string
}

func productDetails(reply map[string]any) map[int]productDetail {
	details := make(map[int]productDetail)
	for _, item := range asList(reply["suggested_products"]) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, ok := toID(obj["id"])
		if !ok {
			continue
		}
		if _, dup := details[id]; dup {
			continue
		}
		price, _ := toFloat(obj["price"])
		details[id] = productDetail{
			name:     stringField(obj, "name"),
			price:    price,
			category: stringField(obj, "category"),
			color:    stringField(obj, "color"),
		}
	}
	return details
}

// formatListing renders one line per product.
func formatListing(ids []int, details map[int]productDetail) string {
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		d, ok := details[id]
		if !ok {
			lines = append(lines, fmt.Sprintf("Product #%d", id))
			continue
		}
		name := d.name
		if name == "" {
			name = "Unnamed product"
		}
		category := d.category
		if category == "" {
			category = "N/A"
		}
		color := d.color
		if color == "" {
			color = "N/A"
		}
		lines = append(lines, fmt.Sprintf("Product #%d: %s - $%.2f (%s, %s)", id, name, d.price, category, color))
	}
	return strings.Join(lines, "\n")
}
