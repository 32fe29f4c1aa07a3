package output

import (
	"io"

	"github.com/RyanBlaney/sonido-prosody/kaldi"
	"github.com/RyanBlaney/sonido-prosody/prosody"
)

// ArkWriter writes the feature matrix as a Kaldi text archive entry keyed
// by the utterance id. Stream boundaries are not stored.
type ArkWriter struct{}

func (a *ArkWriter) Write(w io.Writer, fm *prosody.FeatureMatrix, meta Metadata) error {
	return kaldi.WriteTextArchive(w, &kaldi.Matrix{
		Key:  meta.UtteranceKey(),
		Rows: rows(fm),
	})
}
