package extract

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/news-pipeline/internal/resilience"
)

// Verdict is a classification reply: whether a link deserves deep extraction.
type Verdict struct {
	NeedCrawl  bool            `json:"need_crawl"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
}

// ParseVerdict extracts a Verdict from a raw reply. need_crawl is required;
// confidence is clamped to [0,1] and a non-finite value reads as 0.
func ParseVerdict(text string) (*Verdict, error) {
	obj, err := ExtractJSON(text)
	if err != nil {
		return nil, err
	}

	need, ok := boolValue(obj["need_crawl"])
	if !ok {
		return nil, resilience.Malformed(eris.New("extract: verdict missing need_crawl"))
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, resilience.Malformed(eris.Wrap(err, "extract: marshal verdict payload"))
	}

	conf, _ := floatValue(obj["confidence"])
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		conf = 0
	}
	return &Verdict{
		NeedCrawl:  need,
		Confidence: min(max(conf, 0), 1),
		Reason:     cleanLine(stringField(obj, "reason")),
		Payload:    payload,
	}, nil
}

func boolValue(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	case float64:
		return b != 0, true
	default:
		return false, false
	}
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
