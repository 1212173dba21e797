package objectstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

func TestUploadRequestValidate(t *testing.T) {
	t.Parallel()

	valid := UploadRequest{Filename: "paper.pdf", ContentType: "application/pdf", Size: 1024}
	key, err := valid.Validate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "uploads/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	tests := []struct {
		name string
		req  UploadRequest
		kind domain.ErrorKind
	}{
		{
			name: "path traversal",
			req:  UploadRequest{Filename: "../../etc/passwd.pdf", ContentType: "application/pdf", Size: 10},
			kind: domain.KindInvalidInput,
		},
		{
			name: "backslash path",
			req:  UploadRequest{Filename: `..\..\boot.pdf`, ContentType: "application/pdf", Size: 10},
			kind: domain.KindInvalidInput,
		},
		{
			name: "reserved name",
			req:  UploadRequest{Filename: "CON.pdf", ContentType: "application/pdf", Size: 10},
			kind: domain.KindInvalidInput,
		},
		{
			name: "not a pdf extension",
			req:  UploadRequest{Filename: "malware.exe", ContentType: "application/pdf", Size: 10},
			kind: domain.KindInvalidInput,
		},
		{
			name: "wrong mime",
			req:  UploadRequest{Filename: "paper.pdf", ContentType: "text/html", Size: 10},
			kind: domain.KindInvalidPDF,
		},
		{
			name: "oversize",
			req:  UploadRequest{Filename: "paper.pdf", ContentType: "application/pdf", Size: MaxUploadBytes + 1},
			kind: domain.KindTooLarge,
		},
		{
			name: "zero size",
			req:  UploadRequest{Filename: "paper.pdf", ContentType: "application/pdf", Size: 0},
			kind: domain.KindInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.req.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestUploadKeysAreUnique(t *testing.T) {
	t.Parallel()

	req := UploadRequest{Filename: "paper.pdf", ContentType: "application/pdf", Size: 10}
	k1, err := req.Validate()
	require.NoError(t, err)
	k2, err := req.Validate()
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}
