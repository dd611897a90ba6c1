package main

import "github.com/vibast-solutions/ms-go-chainpay/cmd"

func main() {
	cmd.Execute()
}
