package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theflywheel/segmap"
)

var getCmd = &cobra.Command{
	Use:   "get [path] [key]",
	Short: "read a single key's value from a segmap file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, key := args[0], args[1]
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

		value, found, err := m.Get(key)
		if err != nil {
			return err
		}
		if !found {
			logger.Infof("key %q not found", key)
			return nil
		}
		fmt.Printf("%s\n", value)
		return nil
	},
}
