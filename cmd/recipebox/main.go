package main

import "github.com/mikepea/recipebox/pkg/recipebox/cli"

// @title Recipebox API
// @version 1.0
// @description Recipes with per-user tags, ingredients and images.

// @contact.name Recipebox Support
// @contact.url https://github.com/mikepea/recipebox

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT or API token. Format: "Bearer {token}"

func main() {
	cli.Execute()
}
