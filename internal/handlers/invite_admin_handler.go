package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"github.com/themaluxis/MUM-sub001/internal/services"
)

// InviteAdminHandler 邀请管理接口
type InviteAdminHandler struct {
	invites   *services.InviteService
	servers   *services.MediaServerService
	libraries *services.LibraryService
}

func NewInviteAdminHandler(invites *services.InviteService, servers *services.MediaServerService, libraries *services.LibraryService) *InviteAdminHandler {
	return &InviteAdminHandler{invites: invites, servers: servers, libraries: libraries}
}

// Create 创建邀请。库选择在入库前规范化：选满即写入空列表哨兵
func (h *InviteAdminHandler) Create(c *gin.Context) {
	var req models.CreateInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Libraries) > 0 && len(req.ServerIDs) > 0 {
		all, err := h.servers.List()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		wanted := make(map[uint]bool, len(req.ServerIDs))
		for _, id := range req.ServerIDs {
			wanted[id] = true
		}
		chosen := make([]models.MediaServer, 0, len(req.ServerIDs))
		for _, server := range all {
			if wanted[server.ID] {
				chosen = append(chosen, server)
			}
		}

		_, available := h.libraries.Flatten(c.Request.Context(), chosen)
		selection := h.libraries.Decode(req.Libraries, chosen, available)
		req.Libraries = h.libraries.Encode(selection, chosen, available)
	}

	invite, err := h.invites.Create(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, invite)
}

// List 邀请列表
func (h *InviteAdminHandler) List(c *gin.Context) {
	invites, err := h.invites.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

// Get 邀请详情
func (h *InviteAdminHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}

	invite, err := h.invites.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "邀请不存在"})
		return
	}
	c.JSON(http.StatusOK, invite)
}

type setDisabledRequest struct {
	Disabled *bool `json:"disabled" binding:"required"`
}

// SetDisabled 启用/禁用邀请
func (h *InviteAdminHandler) SetDisabled(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}

	var req setDisabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.invites.SetDisabled(uint(id), *req.Disabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "更新成功"})
}

// Delete 删除邀请
func (h *InviteAdminHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}

	if err := h.invites.Delete(uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// Usages 邀请使用记录
func (h *InviteAdminHandler) Usages(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}

	usages, err := h.invites.Usages(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"usages": usages})
}

// LibraryOptions 指定服务器集合的拉平库列表，创建邀请时用于勾选
func (h *InviteAdminHandler) LibraryOptions(c *gin.Context) {
	all, err := h.servers.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	servers := all
	if raw := c.Query("server_ids"); raw != "" {
		wanted := make(map[uint]bool)
		for _, part := range c.QueryArray("server_ids") {
			if id, err := strconv.ParseUint(part, 10, 32); err == nil {
				wanted[uint(id)] = true
			}
		}
		servers = make([]models.MediaServer, 0, len(wanted))
		for _, server := range all {
			if wanted[server.ID] {
				servers = append(servers, server)
			}
		}
	}

	options, _ := h.libraries.Flatten(c.Request.Context(), servers)
	c.JSON(http.StatusOK, gin.H{"libraries": options})
}
