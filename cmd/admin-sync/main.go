package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pgpavlides/3dprintwiki-sub000/adminservice"
)

func main() {
	// Optional build-target flag override (local | cloud-dev | cloud)
	buildTarget := flag.String("build-target", "", "Override ADMIN_SYNC_BUILD_TARGET (local, cloud-dev, cloud)")
	flag.Parse()

	if *buildTarget != "" {
		_ = os.Setenv("ADMIN_SYNC_BUILD_TARGET", *buildTarget)
	}

	if err := adminservice.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "admin-sync:", err)
		os.Exit(1)
	}
}
