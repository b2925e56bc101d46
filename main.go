package main

import "github.com/SigmoidFreud/spaCy/app"

func main() {
	app.Execute()
}
