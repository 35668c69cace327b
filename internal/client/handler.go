package client

// Handler receives what the relay delivers. Methods are called from the
// Run goroutine, one at a time.
type Handler interface {
	OnUserList(users []string)
	OnChat(line ChatLine)
	OnFileOffered(from, filename string, size int64)
	OnFileProgress(filename string, received, size int64)
	OnFileReceived(from, filename, path string)
	OnFileRequest(from, filename string, meta map[string]string)
	OnScreenStart(from string)
	OnScreenStop(from string)
	OnScreenFrame(from string, frame []byte)
}

// BaseHandler ignores everything. Embed it to implement only what you need.
type BaseHandler struct{}

func (BaseHandler) OnUserList([]string)                             {}
func (BaseHandler) OnChat(ChatLine)                                 {}
func (BaseHandler) OnFileOffered(string, string, int64)             {}
func (BaseHandler) OnFileProgress(string, int64, int64)             {}
func (BaseHandler) OnFileReceived(string, string, string)           {}
func (BaseHandler) OnFileRequest(string, string, map[string]string) {}
func (BaseHandler) OnScreenStart(string)                            {}
func (BaseHandler) OnScreenStop(string)                             {}
func (BaseHandler) OnScreenFrame(string, []byte)                    {}
