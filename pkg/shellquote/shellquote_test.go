package shellquote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingle_EscapesEmbeddedQuotes(t *testing.T) {
	assert.Equal(t, `'hello'`, Single("hello"))
	assert.Equal(t, `'it'\''s'`, Single("it's"))
	assert.Equal(t, `'a'\'''\''b'`, Single("a''b"))
}

func TestSudo_NonInteractive(t *testing.T) {
	assert.Equal(t, `sudo -n -- sh -c 'echo hi'`, Sudo("echo hi", ""))
	assert.Equal(t, `sudo -n -u deploy -- sh -c 'echo hi'`, Sudo("echo hi", "deploy"))
}

func TestSudo_EscapesCommandQuotes(t *testing.T) {
	got := Sudo("echo 'hi'", "")
	assert.Equal(t, `sudo -n -- sh -c 'echo '\''hi'\'''`, got)
}
