package risk

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var numberRe = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)

const noReason = "no explanation provided"

// ParseResponse converts a scorer reply into a Result. It never fails:
// a missing or malformed score becomes DefaultScore(p) with Source
// SourceParsedDefault, a missing reason becomes a placeholder, and the score
// is always clamped to [0,1].
//
// Two reply shapes are understood: line-oriented "RISK_SCORE:/REASON:/ALERTS:"
// text (case-insensitive, markdown bullets tolerated) and a JSON object with
// score/reason/alerts keys, optionally wrapped in prose or a code fence.
//
// A JSON object only wins when it carries a score, so braces inside a
// line-format reply ("ALERTS: {}", a snippet in REASON) never mask the
// RISK_SCORE line.
func ParseResponse(raw string, p Purpose) Result {
	score, reason, alerts, isJSON := parseJSONReply(raw)
	if score == nil {
		lScore, lReason, lAlerts := parseLineReply(raw)
		if lScore != nil || !isJSON {
			score, reason, alerts = lScore, lReason, lAlerts
		}
	}

	res := Result{Reason: reason, Alerts: alerts, Source: SourceScorer}
	if score == nil || math.IsNaN(*score) {
		res.Score = DefaultScore(p)
		res.Source = SourceParsedDefault
	} else {
		res.Score = Clamp(*score)
	}
	if strings.TrimSpace(res.Reason) == "" {
		res.Reason = noReason
	}
	if res.Alerts == nil {
		res.Alerts = []string{}
	}
	return res
}

// Clamp bounds s to [0,1] and rounds to three decimals. NaN maps to 0.
func Clamp(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	}
	return math.Round(s*1000) / 1000
}

func parseLineReply(raw string) (score *float64, reason string, alerts []string) {
	for _, line := range strings.Split(raw, "\n") {
		key, val, ok := splitField(line)
		if !ok {
			continue
		}
		switch key {
		case "risk_score", "riskscore", "score":
			if score == nil {
				score = parseScore(val)
			}
		case "reason", "explanation":
			if reason == "" {
				reason = strings.TrimSpace(val)
			}
		case "alerts", "alert":
			if alerts == nil {
				alerts = splitAlerts(val)
			}
		}
	}
	return score, reason, alerts
}

// splitField parses "KEY: value", ignoring bullets and bold markers.
func splitField(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "-*#> \t")
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.Trim(line[:idx], "* _`\t"))
	key = strings.ReplaceAll(key, " ", "_")
	val := strings.Trim(line[idx+1:], "* `\t")
	return key, val, true
}

func parseScore(s string) *float64 {
	s = strings.TrimSpace(s)
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	// "85%" and "85/100" style replies.
	rest := strings.TrimSpace(s[strings.Index(s, m)+len(m):])
	if strings.HasPrefix(rest, "%") || strings.HasPrefix(rest, "/100") {
		f /= 100
	}
	return &f
}

func splitAlerts(s string) []string {
	out := []string{}
	for _, a := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
		a = strings.Trim(strings.TrimSpace(a), `"'[]{}`)
		if a == "" || strings.EqualFold(a, "none") || strings.EqualFold(a, "n/a") {
			continue
		}
		out = append(out, a)
	}
	return out
}

type jsonReply struct {
	Score       json.RawMessage `json:"score"`
	RiskScore   json.RawMessage `json:"risk_score"`
	RiskScore2  json.RawMessage `json:"riskScore"`
	Reason      string          `json:"reason"`
	Explanation string          `json:"explanation"`
	Alerts      json.RawMessage `json:"alerts"`
}

func parseJSONReply(raw string) (score *float64, reason string, alerts []string, ok bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, "", nil, false
	}
	var r jsonReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &r); err != nil {
		return nil, "", nil, false
	}

	for _, msg := range []json.RawMessage{r.Score, r.RiskScore, r.RiskScore2} {
		if isNullJSON(msg) {
			continue
		}
		var f float64
		if err := json.Unmarshal(msg, &f); err == nil {
			score = &f
			break
		}
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			score = parseScore(s)
			break
		}
	}

	reason = r.Reason
	if reason == "" {
		reason = r.Explanation
	}

	if !isNullJSON(r.Alerts) {
		var list []string
		var one string
		switch {
		case json.Unmarshal(r.Alerts, &list) == nil:
			alerts = splitAlerts(strings.Join(list, ","))
		case json.Unmarshal(r.Alerts, &one) == nil:
			alerts = splitAlerts(one)
		}
	}
	return score, reason, alerts, true
}

// isNullJSON reports whether a field was absent or an explicit null.
func isNullJSON(msg json.RawMessage) bool {
	t := strings.TrimSpace(string(msg))
	return t == "" || t == "null"
}
