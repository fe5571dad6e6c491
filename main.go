package main

import "example.com/backstage/waterweb/cmd"

func main() {
	cmd.Execute()
}
