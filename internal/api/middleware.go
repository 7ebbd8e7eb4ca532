package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxSubject  = "subject"
	ctxCanWrite = "can_write"
)

// jwtMiddleware проверяет JWT токен в заголовке Authorization
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Отсутствует токен авторизации",
			})
			return
		}

		// Формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Неверный формат токена",
			})
			return
		}

		claims, err := rs.auth.Validate(parts[1])
		if err != nil {
			rs.logger.Debug("Rejected token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Недействительный токен",
			})
			return
		}

		c.Set(ctxSubject, claims.Subject)
		c.Set(ctxCanWrite, claims.CanWrite)
		c.Next()
	}
}

// writerMiddleware пропускает только токены с правом записи.
// Ставится после jwtMiddleware.
func (rs *RestServer) writerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ctxCanWrite) {
			c.AbortWithStatusJSON(http.StatusForbidden, GenericResponse{
				Success: false,
				Message: "Недостаточно прав доступа",
			})
			return
		}
		c.Next()
	}
}

// guards возвращает middleware для чтения и для записи; без аутентификатора пусто
func (rs *RestServer) guards() (read, write []gin.HandlerFunc) {
	if rs.auth == nil {
		return nil, nil
	}
	read = []gin.HandlerFunc{rs.jwtMiddleware()}
	write = append(read, rs.writerMiddleware())
	return read, write
}
