package main

import "monitorai/internal/app"

func main() {
	app.Main()
}
