package mcp

import (
	"strings"

	"github.com/bigf625oot/Tiga-sub000/rag/query"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type searchArgs struct {
	Query        string  `mapstructure:"query"`
	NumDocuments int     `mapstructure:"num_documents"`
	DocIds       []int64 `mapstructure:"doc_ids"`
}

type queryArgs struct {
	Query string     `mapstructure:"query"`
	Mode  query.Mode `mapstructure:"mode"`
}

// decode accepts the loose shapes clients send: numbers as floats or
// strings, a single id instead of a list.
func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(dec.Decode(in), "invalid arguments")
}

func parseSearchArgs(in map[string]any) (*searchArgs, error) {
	args := &searchArgs{}
	if err := decode(in, args); err != nil {
		return nil, err
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return nil, errors.New("query is required")
	}
	switch {
	case args.NumDocuments <= 0:
		args.NumDocuments = defaultNumDocuments
	case args.NumDocuments > maxNumDocuments:
		args.NumDocuments = maxNumDocuments
	}
	return args, nil
}

func parseQueryArgs(in map[string]any) (*queryArgs, error) {
	args := &queryArgs{}
	if err := decode(in, args); err != nil {
		return nil, err
	}
	args.Query = strings.TrimSpace(args.Query)
	if args.Query == "" {
		return nil, errors.New("query is required")
	}
	switch args.Mode {
	case "", query.ModeMix:
		args.Mode = query.ModeMix
	case query.ModeLocal:
	default:
		return nil, errors.Errorf("unsupported mode %q", args.Mode)
	}
	return args, nil
}

func intArg(in map[string]any, key string) (int64, error) {
	var out struct {
		V *int64 `mapstructure:"v"`
	}
	if err := decode(map[string]any{"v": in[key]}, &out); err != nil {
		return 0, err
	}
	if out.V == nil || *out.V <= 0 {
		return 0, errors.Errorf("%s must be a positive integer", key)
	}
	return *out.V, nil
}
