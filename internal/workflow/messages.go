package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/internal/session"
	"github.com/lucasdeangeli4scale/disparaai/internal/uploads"
)

const (
	msgApology = "Desculpe, encontrei um erro técnico. Tente novamente."

	msgWelcome = "Olá! Sou a DisparaAI, sua assistente para mensagens em massa.\n\n" +
		"Posso ajudar você a enviar mensagens personalizadas do WhatsApp para múltiplos contatos.\n\n" +
		"Digite 'iniciar campanha' ou envie uma planilha para começar!"

	msgStart = "Olá! Sou a DisparaAI, sua assistente para mensagens em massa.\n\n" +
		"Para começar, envie uma planilha com sua lista de contatos.\n\n" +
		"*Requisitos da planilha:*\n" +
		"• Deve conter números de telefone (coluna: 'phone', 'number', 'telefone', etc.)\n" +
		"• Formatos aceitos: Excel (.xlsx) ou CSV\n" +
		"• Tamanho máximo: 10MB\n\n" +
		"Envie seu arquivo quando estiver pronto!"

	msgUploadInstructions = "Por favor, envie uma planilha com números de telefone.\n\n" +
		"*Requisitos:*\n" +
		"• Formatos aceitos: Excel (.xlsx) ou CSV\n" +
		"• Deve conter números de telefone\n" +
		"• Tamanho máximo: 10MB\n\n" +
		"Envie seu arquivo para continuar!"

	msgCustomPrompt = "📝 *Digite sua mensagem:*\n\n*Use {{name}} para personalização*"
	msgCustomEmpty  = "Por favor, digite sua mensagem personalizada:\n\n*Lembre-se de incluir {{name}} se quiser personalizar por nome*"
	msgDirectPrompt = "📤 *Digite mensagem para envio direto:*"
	msgDirectEmpty  = "Por favor, digite a mensagem que deseja enviar diretamente:"

	msgSkip = "⏭️ *Pular Copy com IA*\n\n" +
		"Se não quiser fornecer contexto, você tem outras opções:\n\n" +
		"📝 Digite *\"personalizada\"* - Escrever sua própria mensagem\n" +
		"📤 Digite *\"enviar direto\"* - Para envio imediato com mensagem simples\n\n" +
		"*Copy com IA SEMPRE precisa de contexto para ser eficaz.*\n\n" +
		"*O que prefere fazer?*"

	msgGenerating = "🤖 *Gerando copy com IA...*\n\n" +
		"Sua solicitação está sendo processada em background.\n\n" +
		"*As opções personalizadas serão enviadas automaticamente em alguns segundos!*"

	msgContextHint = "🤖 *Copy com IA precisa de contexto:*\n\n" +
		"*Digite:* \"gerar copy: [descrição do seu negócio/produto]\"\n" +
		"*Ou envie uma imagem* para copy automática\n\n" +
		"*Exemplo:* \"gerar copy: sou dentista e ofereço 20% desconto em limpeza\""

	msgSelectionMenuEmpty = "*Opções disponíveis:*\n\n" +
		"\"personalizada\" - Digite sua mensagem\n" +
		"\"gerar copy: [descrição]\" - Copy com IA"

	msgConfirm = "Por favor, confirme sua escolha:\n\n" +
		"Digite *\"ENVIAR\"* para iniciar a campanha\n" +
		"Digite *\"EDITAR\"* para modificar a mensagem\n\n" +
		"O que gostaria de fazer?"

	msgRunning = "Sua campanha está executando atualmente.\n\n" +
		"Digite *\"status\"* para verificar o progresso a qualquer momento."
)

func msgContactsLoaded(valid int) string {
	return fmt.Sprintf("✅ *%d contatos carregados*\n\n"+
		"🤖 *\"gerar copy: [descrição]\"* - Copy personalizada com IA\n"+
		"📤 *\"enviar direto\"* - Mensagem simples\n"+
		"📝 *\"personalizada\"* - Escrever sua mensagem\n\n"+
		"*Ou envie uma imagem para copy automática*", valid)
}

func msgEditing(valid int) string {
	return fmt.Sprintf("*Editando campanha para %d contatos:*\n\n"+
		"🤖 *\"gerar copy: [descrição]\"* - Copy personalizada com IA\n"+
		"📤 *\"enviar direto\"* - Mensagem simples\n\n"+
		"*Ou envie uma imagem para copy automática*", valid)
}

func msgNoValidContacts(stats contacts.Stats) string {
	return "❌ *Nenhum número válido encontrado*\n\n" + stats.Summary() +
		"\n\nVerifique a coluna de telefones e envie a planilha novamente."
}

func msgUploadFailed(err error) string {
	return "Erro ao processar planilha: " + describeUploadError(err) + "\n\nTente enviar o arquivo novamente."
}

func msgImageFailed(err error) string {
	return "❌ *Erro ao processar imagem*\n\n" + describeUploadError(err) +
		"\n\n*Opções:*\n• Tente enviar a imagem novamente\n• Ou digite uma descrição do seu produto/serviço"
}

func describeUploadError(err error) string {
	switch {
	case errors.Is(err, uploads.ErrTooLarge), errors.Is(err, contacts.ErrUploadTooLarge):
		return "arquivo muito grande (" + err.Error() + ")"
	case errors.Is(err, uploads.ErrUnsupportedType):
		return "formato não suportado (" + err.Error() + ")"
	case errors.Is(err, contacts.ErrUnsupportedFile):
		return "formato .xls não suportado, salve como .xlsx ou .csv"
	case errors.Is(err, uploads.ErrEmpty), errors.Is(err, contacts.ErrEmptyUpload):
		return "nenhum conteúdo recebido"
	case errors.Is(err, uploads.ErrCorruptImage):
		return "imagem corrompida ou ilegível"
	}
	return err.Error()
}

func msgContextRequest(valid int) string {
	return fmt.Sprintf("🤖 *Geração de Copy com IA*\n\n"+
		"Para criar mensagens eficazes para seus %d contatos, preciso de contexto sobre sua campanha.\n\n"+
		"*Escolha uma opção:*\n\n"+
		"📸 *Envie uma imagem* - Do seu produto, serviço ou promoção\n"+
		"📝 *Digite uma descrição* - Descreva seu negócio, produto ou objetivo da campanha\n\n"+
		"*Exemplo:*\n\"gerar copy: sou dentista e quero promover limpeza dental com 20%% desconto\"", valid)
}

func msgCampaignStatus(stats contacts.Stats) string {
	countries := "Nenhum"
	if len(stats.Countries) > 0 {
		codes := make([]string, 0, len(stats.Countries))
		for code := range stats.Countries {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		countries = strings.Join(codes, ", ")
	}
	return fmt.Sprintf("*Status da Campanha:*\n\n"+
		"• Números válidos: %d\n"+
		"• Países: %s\n"+
		"• Pronto para próximo passo\n\n"+
		"*Escolha uma opção:*\n"+
		"📝 Digite *\"personalizada\"* - Escrever sua própria mensagem\n"+
		"🤖 Digite *\"gerar copy\"* - Criar copy com IA\n"+
		"📤 Digite *\"enviar direto\"* - Envio imediato sem personalização", stats.Valid, countries)
}

func msgOptionSelected(n int, message string) string {
	return fmt.Sprintf("*Opção %d selecionada para edição:*\n\n\"%s\"\n\n*Digite \"ENVIAR\" ou \"EDITAR\"*", n, message)
}

func msgCustomSet(valid int, message string) string {
	return fmt.Sprintf("✅ *Mensagem definida para %d contatos:*\n\n\"%s\"\n\n"+
		"📤 *\"enviar\"* - Iniciar envio\n✏️ *\"editar\"* - Revisar primeiro", valid, message)
}

func msgCampaignStarted(valid int) string {
	return fmt.Sprintf("✅ *Campanha iniciada!*\n\nEnviando para %d contatos...\n\nDigite \"status\" para acompanhar o progresso.", valid)
}

func msgSending(valid int, message string) string {
	if message == "" {
		return fmt.Sprintf("✅ *Enviando para %d contatos...*\n\nDigite \"status\" para acompanhar.", valid)
	}
	return fmt.Sprintf("✅ *Enviando para %d contatos...*\n\n\"%s\"\n\nDigite \"status\" para acompanhar.", valid, message)
}

func msgProgress(valid int, p session.ProgressSnapshot, done bool) string {
	status, note := "Em Progresso", "A campanha está executando com intervalo entre mensagens."
	if done {
		status, note = "Concluída", "Campanha concluída! Você pode iniciar uma nova campanha agora."
	}
	return fmt.Sprintf("*Atualização do Status da Campanha:*\n\n"+
		"• Total de contatos: %d\n"+
		"• Mensagens enviadas: %d\n"+
		"• Mensagens entregues: %d\n"+
		"• Mensagens falharam: %d\n\n"+
		"*Status:* %s\n\n%s", valid, p.Sent, p.Delivered, p.Failed, status, note)
}
