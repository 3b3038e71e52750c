package main

import "github/chapool/hot-wallet/cmd"

func main() {
	cmd.Execute()
}
