package errors

import (
	"go.uber.org/zap"
)

// LogError는 에러를 구조화된 로그로 기록합니다
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}

	// 기본 필드
	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.Error(err))

	// 코드가 있는 에러에서 추가 정보 추출
	var coded Error
	if As(err, &coded) {
		allFields = append(allFields, zap.String("error_code", coded.Code()))
	}

	// 추가 필드 병합
	allFields = append(allFields, fields...)

	// 로깅
	logger.Error(msg, allFields...)
}

// LogWarn은 서비스 저하 수준의 에러를 Warn 레벨로 기록합니다
func LogWarn(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.Error(err), zap.String("error_code", CodeOf(err)))
	allFields = append(allFields, fields...)

	logger.Warn(msg, allFields...)
}
