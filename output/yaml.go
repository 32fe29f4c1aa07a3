package output

import (
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/sonido-prosody/prosody"
)

// YAMLWriter writes metadata followed by one flow sequence per frame
type YAMLWriter struct{}

type yamlDocument struct {
	Source            string                `yaml:"source,omitempty"`
	Utterance         string                `yaml:"utterance"`
	SampleFrequency   int                   `yaml:"sample_frequency"`
	FrameLength       float64               `yaml:"frame_length"`
	FrameShift        float64               `yaml:"frame_shift"`
	CenterFrequencies []float64             `yaml:"center_frequencies,flow,omitempty"`
	Streams           []prosody.StreamRange `yaml:"streams"`
	Features          *yaml.Node            `yaml:"features"`
}

func (y *YAMLWriter) Write(w io.Writer, fm *prosody.FeatureMatrix, meta Metadata) error {
	doc := yamlDocument{
		Source:            meta.Source,
		Utterance:         meta.UtteranceKey(),
		SampleFrequency:   fm.SampleRate,
		FrameLength:       fm.FrameLength,
		FrameShift:        fm.FrameShift,
		CenterFrequencies: fm.CenterFrequencies,
		Streams:           fm.Streams,
		Features:          featureNode(fm),
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	return enc.Close()
}

// featureNode builds a block sequence of flow-style rows
func featureNode(fm *prosody.FeatureMatrix) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, row := range rows(fm) {
		rowNode := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
		for _, v := range row {
			rowNode.Content = append(rowNode.Content, &yaml.Node{
				Kind:  yaml.ScalarNode,
				Value: strconv.FormatFloat(v, 'g', -1, 64),
			})
		}
		seq.Content = append(seq.Content, rowNode)
	}
	return seq
}
