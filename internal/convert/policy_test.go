package convert_test

import (
	"testing"

	"github.com/chirino/content-migrator/internal/convert"
	"github.com/chirino/content-migrator/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestShouldLink(t *testing.T) {
	for _, private := range []bool{false, true} {
		for _, share := range []bool{false, true} {
			r := model.SourceRecord{IsPrivate: private}
			assert.Equal(t, !(private && !share), convert.ShouldLink(r, share), "private=%v share=%v", private, share)
		}
	}
}

func TestShouldDeleteFollowsConfig(t *testing.T) {
	for _, private := range []bool{false, true} {
		r := model.SourceRecord{IsPrivate: private}
		assert.True(t, convert.ShouldDelete(r, true))
		assert.False(t, convert.ShouldDelete(r, false))
	}
}

func TestOwnerFor(t *testing.T) {
	assert.Equal(t, "005xx", convert.OwnerFor(model.SourceRecord{OwnerID: "005xx"}))
}

func TestDefaultOptions(t *testing.T) {
	opts := convert.DefaultOptions()
	assert.False(t, opts.DeleteUponConversion)
	assert.False(t, opts.SharePrivateWithParent)
	assert.False(t, opts.SkipConverted)
	assert.NoError(t, opts.Validate())

	opts.LinkVisibility = "everyone"
	assert.Error(t, opts.Validate())

	opts = convert.DefaultOptions()
	opts.LinkAccessLevel = "admin"
	assert.Error(t, opts.Validate())
}

func TestEscapeNoteContent(t *testing.T) {
	cases := map[string]string{
		"plain":              "plain",
		"<b>bold</b> & co":   "&lt;b&gt;bold&lt;/b&gt; &amp; co",
		"line one\nline two": "line one<br>line two",
		"windows\r\nbreaks":  "windows<br>breaks",
		`"quoted" 'single'`:  "&#34;quoted&#34; &#39;single&#39;",
		"":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, string(convert.EscapeNoteContent([]byte(in))), in)
	}
}
