package ivr

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

type fileLink struct {
	Message string `toml:"message"`
	Next    string `toml:"next"`
}

type fileNode struct {
	Type      string     `toml:"type"`
	WaitDelay duration   `toml:"wait_delay"`
	IsFinal   bool       `toml:"is_final"`
	Links     []fileLink `toml:"links"`

	Sound    string   `toml:"sound"`
	Message  string   `toml:"message"`
	LinkType string   `toml:"link_type"`
	Messages []string `toml:"messages"`
	Delay    duration `toml:"delay"`
	Duration duration `toml:"duration"`
}

type fileDAG struct {
	Start         string              `toml:"start"`
	FuzzThreshold int                 `toml:"fuzz_threshold"`
	Nodes         map[string]fileNode `toml:"nodes"`
}

// LoadDAG reads and validates a DAG from a TOML file.
func LoadDAG(path string) (*DAG, error) {
	var file fileDAG
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read ivr dag %s: %w", path, err)
	}
	return file.dag()
}

// ParseDAG reads and validates a DAG from TOML.
func ParseDAG(data string) (*DAG, error) {
	var file fileDAG
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse ivr dag: %w", err)
	}
	return file.dag()
}

func (f fileDAG) dag() (*DAG, error) {
	dag := &DAG{
		Start:         f.Start,
		FuzzThreshold: f.FuzzThreshold,
		Nodes:         make(map[string]Node, len(f.Nodes)),
	}

	for id, n := range f.Nodes {
		base := NodeBase{WaitDelay: n.WaitDelay.Duration, IsFinal: n.IsFinal}
		for _, link := range n.Links {
			base.Links = append(base.Links, Link{Message: link.Message, Next: link.Next})
		}

		switch n.Type {
		case "play":
			dag.Nodes[id] = &PlayNode{NodeBase: base, Sound: n.Sound, Delay: n.Delay.Duration}
		case "message":
			dag.Nodes[id] = &MessageNode{NodeBase: base, Message: n.Message, LinkType: LinkType(n.LinkType)}
		case "hold":
			dag.Nodes[id] = &HoldNode{NodeBase: base, Messages: n.Messages, Delay: n.Delay.Duration, Duration: n.Duration.Duration}
		case "terminal":
			dag.Nodes[id] = &TerminalNode{NodeBase: base}
		default:
			return nil, fmt.Errorf("%w: node %q has unknown type %q", ErrConfiguration, id, n.Type)
		}
	}

	if err := dag.Validate(); err != nil {
		return nil, err
	}
	return dag, nil
}
