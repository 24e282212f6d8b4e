package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theflywheel/segmap"
)

var putCmd = &cobra.Command{
	Use:   "put [path] [key] [value]",
	Short: "write a single key/value pair into a segmap file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, key, value := args[0], args[1], args[2]
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

		if _, _, err := m.Put(key, []byte(value)); err != nil {
			return err
		}
		logger.Infof("put key %q (%d bytes)", key, len(value))
		fmt.Println("ok")
		return nil
	},
}
