package httptransport

import (
	"errors"
	"fmt"
	"net/http"

	"contactform/backend/internal/domain"
	"contactform/backend/internal/upload"
)

// 面向用户的提示信息
const (
	MsgSent              = "Message envoyé avec succès"
	MsgEmptySubmission   = "Au moins un contenu (texte ou audio) est requis"
	MsgUnsupportedType   = "Seuls les fichiers audio sont autorisés"
	MsgMalformedRequest  = "Requête invalide"
	MsgUploadInterrupted = "Envoi interrompu, veuillez réessayer"
	MsgSendFailed        = "Erreur lors de l'envoi du message"
	MsgListFailed        = "Impossible de lire les messages"
	MsgInternalError     = "Erreur interne du serveur"
)

// 字段名的用户可读形式
var fieldLabels = map[string]string{
	"name":    "nom",
	"email":   "email",
	"message": "message",
}

// MsgFileTooLarge 返回文件超限提示
func MsgFileTooLarge(maxBytes int64) string {
	if maxBytes < 1024*1024 {
		return fmt.Sprintf("Fichier audio trop volumineux (limite: %dKB)", maxBytes/1024)
	}
	return fmt.Sprintf("Fichier audio trop volumineux (limite: %dMB)", maxBytes/(1024*1024))
}

// errorResponse 将流水线错误映射为 HTTP 状态码和提示信息
//
// 内部细节只写日志，不返回给客户端。
func errorResponse(err error, maxBytes int64) (int, string) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		switch ve.Kind {
		case domain.ValidationEmptySubmission:
			return http.StatusBadRequest, MsgEmptySubmission
		case domain.ValidationFileTooLarge:
			return http.StatusBadRequest, MsgFileTooLarge(maxBytes)
		case domain.ValidationUnsupportedType:
			return http.StatusBadRequest, MsgUnsupportedType
		case domain.ValidationInvalidField:
			if label, ok := fieldLabels[ve.Field]; ok {
				return http.StatusBadRequest, fmt.Sprintf("Champ invalide : %s", label)
			}
			return http.StatusBadRequest, MsgMalformedRequest
		default:
			return http.StatusBadRequest, MsgMalformedRequest
		}
	}

	if errors.Is(err, upload.ErrClientGone) {
		return http.StatusBadRequest, MsgUploadInterrupted
	}

	var me *domain.MailError
	if errors.As(err, &me) {
		return http.StatusInternalServerError, MsgSendFailed
	}

	return http.StatusInternalServerError, MsgInternalError
}
