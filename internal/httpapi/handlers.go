package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cellstock/backend/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	if !a.loginLimiter.Allow(c.ClientIP()) {
		writeError(c, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}
	var req domain.LoginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := a.auth.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, http.StatusUnauthorized, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) handleListCells(c *gin.Context) {
	cells, err := a.service.ListCells(c.Request.Context(), c.Query("col"), c.Query("row"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cells": cells})
}

func (a *API) handleCreateCell(c *gin.Context) {
	var req domain.CreateCellRequest
	if !bindAndValidate(c, &req) {
		return
	}
	cell, err := a.service.CreateCell(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cell)
}

func (a *API) handleGetCell(c *gin.Context) {
	cell, err := a.service.GetCell(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cell)
}

func (a *API) handleDivideCell(c *gin.Context) {
	var req domain.DivideCellRequest
	if !bindAndValidate(c, &req) {
		return
	}
	cell, err := a.service.DivideCell(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cell)
}

// handleSetStatus takes a cell or sub-cell address in the path.
func (a *API) handleSetStatus(c *gin.Context) {
	var req domain.SetStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Address = c.Param("id")
	result, err := a.service.SetStatus(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handlePlaceProduct(c *gin.Context) {
	var req domain.PlaceProductRequest
	if !bindAndValidate(c, &req) {
		return
	}
	cell, err := a.service.PlaceProduct(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cell)
}

func (a *API) handleWithdrawProduct(c *gin.Context) {
	var req domain.WithdrawProductRequest
	if !bindAndValidate(c, &req) {
		return
	}
	cell, err := a.service.WithdrawProduct(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, cell)
}

func (a *API) handleMoveProduct(c *gin.Context) {
	var req domain.MoveRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := a.service.MoveProduct(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleMoveProducts(c *gin.Context) {
	var req domain.MoveProductsRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := a.service.MoveProducts(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleListBills(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), 50, 200)
	bills, err := a.service.ListBills(c.Request.Context(), c.Query("kind"), c.Query("type"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bills": bills})
}

func (a *API) handleGetBill(c *gin.Context) {
	bill, err := a.service.GetBill(c.Request.Context(), c.Param("number"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, bill)
}

func (a *API) handleCreateImportBill(c *gin.Context) {
	var req domain.ImportBillRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := a.service.CreatePendingImportBill(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *API) handleAssignFromBill(c *gin.Context) {
	var req domain.AssignRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := a.service.AssignFromBill(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) handleWithdraw(c *gin.Context) {
	var req domain.WithdrawRequest
	if !bindAndValidate(c, &req) {
		return
	}
	result, err := a.service.Withdraw(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *API) handleListProducts(c *gin.Context) {
	products, err := a.service.ListProducts(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (a *API) handleGetProduct(c *gin.Context) {
	product, err := a.service.FindProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductCreateRequest
	if !bindAndValidate(c, &req) {
		return
	}
	product, err := a.service.CreateProduct(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (a *API) handleSummary(c *gin.Context) {
	summary, err := a.service.Summary(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *API) handleLatestItems(c *gin.Context) {
	items, err := a.service.LatestItems(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (a *API) handleDailyItems(c *gin.Context) {
	counts, err := a.service.DailyItems(c.Request.Context(), c.Query("date"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (a *API) handleListDocuments(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), 50, 200)
	records, err := a.service.ListDocuments(c.Request.Context(), c.Query("kind"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": records})
}

func (a *API) handleStockReport(c *gin.Context) {
	var buf bytes.Buffer
	if err := a.service.StockReport(c.Request.Context(), &buf); err != nil {
		writeServiceError(c, err)
		return
	}
	filename := fmt.Sprintf("stock-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (a *API) handleListUsers(c *gin.Context) {
	users, err := a.auth.ListUsers(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (a *API) handleCreateUser(c *gin.Context) {
	var req domain.UserCreateRequest
	if !bindAndValidate(c, &req) {
		return
	}
	user, err := a.auth.CreateUser(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (a *API) handleNormalizeCells(c *gin.Context) {
	count, err := a.service.NormalizeCells(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"normalized": count})
}
