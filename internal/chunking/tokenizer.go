package chunking

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Tokenizer counts model tokens in a text.
type Tokenizer interface {
	Count(text string) int
}

// NewTokenizer returns the tokenizer registered under name.
// "words" selects WordTokenizer; anything else is treated as a tiktoken encoding.
func NewTokenizer(name string) (Tokenizer, error) {
	switch name {
	case "words":
		return WordTokenizer{}, nil
	case "":
		return NewTiktokenTokenizer("cl100k_base")
	default:
		return NewTiktokenTokenizer(name)
	}
}

var wordPattern = regexp.MustCompile(`\w+|[^\w\s]`)

// WordTokenizer counts words and punctuation marks. It approximates BPE counts
// without any vocabulary and is stable across runs.
type WordTokenizer struct{}

// Count returns the number of word and punctuation tokens.
func (WordTokenizer) Count(text string) int {
	return len(wordPattern.FindAllStringIndex(text, -1))
}

var loaderOnce sync.Once

// TiktokenTokenizer counts tokens with a BPE encoding bundled in the binary.
type TiktokenTokenizer struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the named encoding (e.g. "cl100k_base") from the offline loader.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

// Count returns the number of BPE tokens.
func (t *TiktokenTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}
