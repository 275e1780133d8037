package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Lakshan1806/Nexus-Connect-sub000/internal/v1/filetransfer"
)

type fileSendRequest struct {
	PeerIP         string `json:"peerIp"`
	PeerPort       int    `json:"peerPort"`
	FilePath       string `json:"filePath"`
	SenderUsername string `json:"senderUsername"`
}

func (a *API) handleFileSend(c *gin.Context) {
	username, ok := identity(c)
	if !ok {
		return
	}

	var req fileSendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PeerIP == "" || req.FilePath == "" {
		badRequest(c, "peerIp, peerPort and filePath required")
		return
	}
	if req.PeerPort <= 0 || req.PeerPort > 65535 {
		badRequest(c, "invalid peer port")
		return
	}
	sender := req.SenderUsername
	if sender == "" {
		sender = username
	}

	res, err := a.files.Send(c.Request.Context(), req.PeerIP, req.PeerPort, req.FilePath, sender)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"transferId": res.TransferID,
		"filename":   res.Filename,
		"filesize":   res.Filesize,
		"message":    "transfer complete, saved as " + res.SavedAs,
	})
}

func (a *API) handleFileTransfers(c *gin.Context) {
	transfers := a.files.Transfers(c.Param("user"))
	if transfers == nil {
		transfers = []filetransfer.Progress{}
	}
	c.JSON(http.StatusOK, transfers)
}

func (a *API) handleFileDownloads(c *gin.Context) {
	files, err := a.files.Downloads()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, files)
}

// handleFileDownload streams a file from the downloads directory. The name
// is re-sanitized so a crafted path cannot escape the sink.
func (a *API) handleFileDownload(c *gin.Context) {
	path, err := a.files.DownloadPath(c.Param("filename"))
	if err != nil {
		fail(c, err)
		return
	}
	c.FileAttachment(path, c.Param("filename"))
}
