package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(ServiceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start background processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop background processing.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Upload runs one upload cycle in the daemon.
func (c *Client) Upload() (*UploadResponse, error) {
	return call[UploadResponse](c, "Upload", UploadRequest{})
}

// Pause changes the upload pause.
func (c *Client) Pause(req PauseRequest) (*PauseResponse, error) {
	return call[PauseResponse](c, "Pause", req)
}

// Attach attaches the device to username.
func (c *Client) Attach(req AttachRequest) (*AttachResponse, error) {
	return call[AttachResponse](c, "Attach", req)
}

// Register registers a recording for upload.
func (c *Client) Register(relativePath string) (*RegisterResponse, error) {
	return call[RegisterResponse](c, "Register", RegisterRequest{RelativePath: relativePath})
}

// Log stages a log line for the server.
func (c *Client) Log(message string) (*LogResponse, error) {
	return call[LogResponse](c, "Log", LogRequest{Message: message})
}

// Persist flushes staged records.
func (c *Client) Persist() (*PersistResponse, error) {
	return call[PersistResponse](c, "Persist", PersistRequest{})
}

// Directives runs pending directives once.
func (c *Client) Directives() (*DirectivesResponse, error) {
	return call[DirectivesResponse](c, "Directives", DirectivesRequest{})
}

// ReloadPrompts downloads prompts and resources.
func (c *Client) ReloadPrompts() (*ReloadPromptsResponse, error) {
	return call[ReloadPromptsResponse](c, "ReloadPrompts", ReloadPromptsRequest{})
}

// SetTutorialMode switches tutorial mode.
func (c *Client) SetTutorialMode(enabled bool) (*TutorialModeResponse, error) {
	return call[TutorialModeResponse](c, "SetTutorialMode", TutorialModeRequest{Enabled: enabled})
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}
