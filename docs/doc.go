// Package docs provides generated OpenAPI documentation.
//
// castwright API
//
//	@title			castwright API
//	@version		1.0
//	@description	Podcast pipeline API: accept topics, generate chapters, synthesize and stitch audio.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/jackzampolin/castwright
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g doc.go -d ./,../internal/server/endpoints -o ./swagger --parseDependency --parseInternal
