package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theflywheel/segmap"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [path]",
	Short: "print every live key/value pair in a segmap file",
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

		count := 0
		err = m.Range(func(key string, value []byte) bool {
			fmt.Printf("%s\t%s\n", key, value)
			count++
			return true
		})
		if err != nil {
			return err
		}
		logger.Infof("dumped %d entries", count)
		return nil
	},
}
