package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theflywheel/segmap"
)

var createCmd = &cobra.Command{
	Use:   "create [path]",
	Short: "create a new segmap file with the given sizing parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		entries := viper.GetInt("entries")
		segments := viper.GetInt("segments")
		entrySize := viper.GetInt("entry-size")
		alignment := viper.GetInt("alignment")

		b := segmap.NewBuilder[string, []byte](segmap.StringCodec(), segmap.BytesCodec()).
			WithEntries(entries).
			WithEntrySize(entrySize).
			WithAlignment(alignment)
		if segments > 0 {
			b = b.WithActualSegments(segments)
		}

		m, err := b.Build(path)
		if err != nil {
			return err
		}
		defer m.Close()

		h := m.Header()
		logger.Infof("created %s: segments=%d entries_per_segment=%d chunk_size=%d", path, h.SegmentCount, h.EntriesPerSegment, h.ChunkSize)
		fmt.Printf("created %s\n", path)
		return nil
	},
}

func init() {
	createCmd.Flags().Int("entries", 1<<20, "expected number of entries, used to derive sizing")
	createCmd.Flags().Int("segments", 0, "explicit segment count (0: derive from --entries)")
	createCmd.Flags().Int("entry-size", 64, "expected average entry size in bytes")
	createCmd.Flags().Int("alignment", 8, "value alignment in bytes")
}
