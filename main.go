/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "ircbridge/cmd"

func main() {
	cmd.Execute()
}
