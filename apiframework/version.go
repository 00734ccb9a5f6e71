package apiframework

// version is injected at build time with
// -ldflags "-X github.com/contenox/chatsync/apiframework.version=v1.2.3".
var version = "dev"

type AboutServer struct {
	Version        string `json:"version"`
	NodeInstanceID string `json:"nodeInstanceID"`
}

func GetVersion() string {
	return version
}
