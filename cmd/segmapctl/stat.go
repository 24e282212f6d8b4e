package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theflywheel/segmap"
)

var statCmd = &cobra.Command{
	Use:   "stat [path]",
	Short: "print a segmap file's header and live entry count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		h, err := segmap.ReadHeader(path)
		if err != nil {
			return err
		}

		m, err := segmap.NewBuilder[string, []byte](segmap.StringCodec(), segmap.BytesCodec()).
			WithExistingHeader(h).
			Build(path)
		if err != nil {
			return err
		}
		defer m.Close()

		fmt.Printf("path:                %s\n", path)
		fmt.Printf("version:             %d\n", h.Version)
		fmt.Printf("segments:            %d\n", h.SegmentCount)
		fmt.Printf("entries_per_segment: %d\n", h.EntriesPerSegment)
		fmt.Printf("chunk_size:          %d\n", h.ChunkSize)
		fmt.Printf("alignment:           %d\n", h.Alignment)
		fmt.Printf("meta_data_bytes:     %d\n", h.MetaDataBytes)
		fmt.Printf("large_segments:      %t\n", h.LargeSegments())
		fmt.Printf("replicated:          %t\n", h.Replicated())
		fmt.Printf("size:                %d\n", m.Size())
		return nil
	},
}
