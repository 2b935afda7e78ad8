package compress

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the fixed ratio used by CharEstimator.
const charsPerToken = 4

// Estimator approximates the token count of a text.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator counts one token per four bytes of text.
type CharEstimator struct{}

// Estimate returns len(text) / 4.
func (CharEstimator) Estimate(text string) int {
	return len(text) / charsPerToken
}

// TiktokenEstimator counts tokens with a BPE encoding. The vocabulary is
// loaded on first use; until it is available, or if loading fails, the
// character heuristic is used instead.
type TiktokenEstimator struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTiktokenEstimator returns an estimator for the named encoding,
// e.g. "cl100k_base".
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	return &TiktokenEstimator{encoding: encoding}
}

func (e *TiktokenEstimator) load() {
	enc, err := tiktoken.GetEncoding(e.encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", e.encoding).Msg("tiktoken unavailable, estimating by characters")
		return
	}
	e.enc = enc
}

// Estimate returns the encoded length of text.
func (e *TiktokenEstimator) Estimate(text string) int {
	e.once.Do(e.load)
	if e.enc == nil {
		return CharEstimator{}.Estimate(text)
	}
	return len(e.enc.EncodeOrdinary(text))
}

// NewEstimator returns the estimator configured by name: "tiktoken" or
// "chars" (the default).
func NewEstimator(name string) Estimator {
	if name == "tiktoken" {
		return NewTiktokenEstimator("cl100k_base")
	}
	return CharEstimator{}
}
