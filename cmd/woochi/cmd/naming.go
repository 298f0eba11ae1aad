package cmd

import (
	"github.com/spf13/cobra"

	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/pkg/woochi"
)

// collectionFlags lets a command name its collection with --domain and
// --strategy instead of a leading positional argument.
type collectionFlags struct {
	domain   string
	strategy string
}

func (f *collectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.domain, "domain", "", "Collection domain; with --strategy names the collection <domain>_<strategy>")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "Chunking strategy part of the collection name (requires --domain)")
}

// resolve returns the collection name and the arguments that follow it.
// want is the number of arguments expected after the collection.
func (f *collectionFlags) resolve(args []string, want int) (string, []string, error) {
	if f.strategy != "" && f.domain == "" {
		return "", nil, woerrors.ValidationError("--strategy requires --domain", nil)
	}

	name := ""
	rest := args
	if f.domain != "" {
		name = woochi.CollectionName(f.domain, f.strategy)
	} else {
		if len(args) == 0 {
			return "", nil, woerrors.ValidationError("missing collection name", nil)
		}
		name, rest = args[0], args[1:]
	}

	if len(rest) < want {
		return "", nil, woerrors.ValidationError("missing arguments after the collection name", nil).
			WithDetail("collection", name)
	}
	return name, rest, nil
}
