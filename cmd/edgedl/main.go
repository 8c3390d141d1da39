// Package main provides the edgedl command line tool.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/born-ml/edgedl/internal/config"
)

func main() {
	klog.InitFlags(nil)
	if v := config.LogVerbosity(); v > 0 {
		_ = flag.Set("v", strconv.Itoa(v))
	}

	rootCmd := NewCLI()
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	err := rootCmd.Execute()
	klog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
