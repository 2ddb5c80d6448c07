package banner

import (
	"fmt"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██╗   ██╗██╗███████╗██╗    ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██║   ██║██║██╔════╝██║    ██║
██║     ███████║███████║   ██║   ██║   ██║██║█████╗  ██║ █╗ ██║
██║     ██╔══██║██╔══██║   ██║   ╚██╗ ██╔╝██║██╔══╝  ██║███╗██║
╚██████╗██║  ██║██║  ██║   ██║    ╚████╔╝ ██║███████╗╚███╔███╔╝
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝     ╚═══╝  ╚═╝╚══════╝ ╚══╝╚══╝
`

// Print shows the startup banner with the effective runtime settings.
func Print(addr, mode, store, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("Remote:   %s\n", mode)
	fmt.Printf("Store:    %s\n", store)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/thread/open  - Attach to a thread (JSON: kind, id)")
	fmt.Println("GET  /v1/messages     - Ordered view of the open thread")
	fmt.Println("POST /v1/send         - Send a text message (JSON: text)")
	fmt.Println("POST /v1/attach       - Send an attachment (multipart: file, caption)")
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST 'http://localhost%s/v1/thread/open' -d '{\"kind\":\"room\",\"id\":\"general\"}'\n", addr)
	fmt.Printf("curl -X POST 'http://localhost%s/v1/send' -d '{\"text\":\"hello\"}'\n", addr)
}
