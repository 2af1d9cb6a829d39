package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"procwire/core/procfs"
)

func newFDsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fds",
		Short: "List this process's open descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fds, err := procfs.OpenFDs()
			if err != nil {
				return err
			}
			for _, fd := range fds {
				target, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
				if err != nil {
					target = "?"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", fd, target)
			}
			return nil
		},
	}
}
