package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"github.com/themaluxis/MUM-sub001/internal/services"
	"gorm.io/gorm"
)

// UserHandler 本地用户与服务账号管理接口
type UserHandler struct {
	db    *gorm.DB
	users *services.UserService
}

func NewUserHandler(db *gorm.DB, users *services.UserService) *UserHandler {
	return &UserHandler{db: db, users: users}
}

// List 用户列表
func (h *UserHandler) List(c *gin.Context) {
	users, err := h.users.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Get 用户详情，附带其名下的服务账号
func (h *UserHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}

	user, err := h.users.GetByID(uint(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "用户不存在"})
		return
	}

	var accounts []models.ServiceAccount
	h.db.Where("user_id = ?", user.ID).Order("id").Find(&accounts)

	c.JSON(http.StatusOK, gin.H{
		"user":     user,
		"accounts": accounts,
	})
}

// Update 更新用户
func (h *UserHandler) Update(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的ID"})
		return
	}

	var req models.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.Update(uint(id), &req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "更新成功"})
}

// ServiceAccounts 全部服务账号列表（按服务器过滤可选）
func (h *UserHandler) ServiceAccounts(c *gin.Context) {
	query := h.db.Order("id")
	if raw := c.Query("server_id"); raw != "" {
		if serverID, err := strconv.ParseUint(raw, 10, 32); err == nil {
			query = query.Where("server_id = ?", uint(serverID))
		}
	}

	var accounts []models.ServiceAccount
	if err := query.Find(&accounts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}
