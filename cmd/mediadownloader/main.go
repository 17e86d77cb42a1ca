package main

import "github.com/j0nathan-ll0yd/aws-cloudformation-media-downloader-sub000/internal/cli"

func main() {
	cli.Execute()
}
